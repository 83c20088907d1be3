// Command handoff retrieves one-time passcodes from test inboxes and hands
// them to the app under test.
package main

import "github.com/devicelab-dev/otp-handoff/pkg/cli"

func main() {
	cli.Execute()
}
