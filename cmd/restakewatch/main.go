package main

import "restake-risk-alerts/internal/cli"

func main() {
	cli.Execute()
}
