package main

import "github.com/WeakKnight/mo-gfx/build-tools/cmd"

func main() {
	cmd.Execute()
}
