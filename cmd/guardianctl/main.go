package main

import "github.com/pintubhai440/secure-recoder/cmd/guardianctl/cmd"

func main() {
	cmd.Execute()
}
