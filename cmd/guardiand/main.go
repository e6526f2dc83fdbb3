package main

import "github.com/pintubhai440/secure-recoder/cmd/guardiand/cmd"

func main() {
	cmd.Execute()
}
