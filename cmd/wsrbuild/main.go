package main

import "github.com/rawsock/wsrbuild/cmd/wsrbuild/internal"

func main() {
	internal.Execute()
}
