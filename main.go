package main

import "github.com/wskish/toolchat/cmd"

func main() {
	cmd.Execute()
}
