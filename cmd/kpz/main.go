/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package main

import "github.com/allbin/go-kpz/cmd"

func main() {
	cmd.Execute()
}
