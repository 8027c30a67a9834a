package main

import "github.com/nfrund/scriptrt/cmd/scriptrt/cmd"

func main() {
	cmd.Execute()
}
