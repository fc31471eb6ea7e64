package main

import "github.com/shaharia-lab/dispatchd/cmd"

func main() {
	cmd.Execute()
}
