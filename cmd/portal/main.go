// Command portal runs the guest WiFi portal and its admin tooling.
package main

func main() {
	Execute()
}
