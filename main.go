package main

import "github.com/nextlevelbuilder/threadclaw/cmd"

func main() {
	cmd.Execute()
}
