// Command owbus inspects and drives 1-Wire buses.
package main

func main() {
	Execute()
}
