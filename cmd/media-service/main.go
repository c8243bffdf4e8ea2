// Command media-service runs the media job HTTP service and its maintenance
// tasks.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()

	err := cmd.Execute()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "media-service exited with error: %v\n", err)
		}

		os.Exit(1)
	}
}
