package docker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
)

// ErrContainerNotFound is returned by ContainerStateByName when no container
// carries the requested name. callers usually map it to a "stopped" status.
var ErrContainerNotFound = errors.New("container not found")

// BoundHostPorts returns every host port currently published by a running
// container, deduplicated and sorted. the port allocator excludes these so a
// fresh allocation never collides with a container the store does not know
// about, such as an orphan from a failed deploy.
func (client *Client) BoundHostPorts(ctx context.Context) ([]int, error) {
	containers, err := client.sdk.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list running containers: %w", err)
	}

	unique := make(map[int]bool)
	for _, summary := range containers {
		for _, port := range summary.Ports {
			if port.PublicPort != 0 {
				unique[int(port.PublicPort)] = true
			}
		}
	}

	ports := make([]int, 0, len(unique))
	for port := range unique {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports, nil
}

// ContainerStateByName returns the engine state ("running", "exited", ...)
// of the container with the exact given name, including stopped ones.
//
// the name filter on ContainerList matches substrings, so "acme-api-pr-4-app"
// would also surface "acme-api-pr-42-app"; the exact match is verified
// against the full name list, which Docker prefixes with "/".
func (client *Client) ContainerStateByName(ctx context.Context, containerName string) (string, error) {
	listFilters := filters.NewArgs(filters.Arg("name", containerName))

	containers, err := client.sdk.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: listFilters,
	})
	if err != nil {
		return "", fmt.Errorf("failed to list containers to find %q: %w", containerName, err)
	}

	targetName := "/" + containerName
	for _, summary := range containers {
		for _, name := range summary.Names {
			if name == targetName {
				return string(summary.State), nil
			}
		}
	}

	return "", fmt.Errorf("%w: %q", ErrContainerNotFound, containerName)
}
