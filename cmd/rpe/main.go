// Command rpe evaluates Google Cloud resources against compliance policies.
package main

func main() {
	Execute()
}
