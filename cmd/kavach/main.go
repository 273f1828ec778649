// Command kavach masks named entities in text before it reaches a language
// model and restores them in the model's reply.
//
// Usage:
//
//	# Run the HTTP gateway with in-memory sessions
//	./kavach serve
//
//	# Share sessions between replicas
//	STORAGE=redis REDIS_URL=redis://localhost:6379/0 ./kavach serve
//
//	# One-shot masking against a local session file
//	./kavach --storage bolt mask -s demo "Amit Kumar lives in Bangalore"
//
//	# Check the detector end to end
//	./kavach verify
package main

import (
	"os"

	"kavach/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
