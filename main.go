package main

import "github.com/mvalgard/threadkeeper/cmd"

func main() {
	cmd.Execute()
}
