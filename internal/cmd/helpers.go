package cmd

import (
	"fmt"

	"fugue/internal/client"
	"fugue/internal/socketdir"
)

// dialDaemon connects to the resolved state dir's daemon.
func dialDaemon() (*client.Client, error) {
	c, err := client.Dial(socketdir.Path())
	if err != nil {
		return nil, fmt.Errorf("is the daemon running? (%w)", err)
	}
	return c, nil
}
