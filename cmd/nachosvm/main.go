// Command nachosvm boots user programs on the nachosvm kernel.
package main

import "github.com/sarchlab/nachosvm/cmd/nachosvm/cmd"

func main() {
	cmd.Execute()
}
