// Command thread-recovery extracts message threads from a web application
// that only exposes them through an authenticated browser session.
package main

import "github.com/JakeFAU/thread-recovery/cmd"

func main() {
	cmd.Execute()
}
