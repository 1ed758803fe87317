package main

import "github.com/ValentinKolb/mapdb/cmd"

func main() {
	cmd.Execute()
}
