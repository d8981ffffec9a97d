// Command feederctl is the operator tool for iotreat feeders.
package main

import (
	"github.com/joho/godotenv"

	"github.com/okian/iotreat/internal/operator"
)

func main() {
	// Broker address and certificate paths may come from .env; a missing
	// file is fine.
	_ = godotenv.Load()
	operator.Execute()
}
