package collector

import (
	"context"
	"strings"

	"dockpulse/internal/docker"
	"dockpulse/internal/models"
)

// DockerSource exposes the Docker engine as an EntitySource.
type DockerSource struct {
	dc *docker.Client
}

func NewDockerSource(dc *docker.Client) *DockerSource {
	return &DockerSource{dc: dc}
}

func (d *DockerSource) ListEntities(ctx context.Context) ([]EntityRef, error) {
	containers, err := d.dc.ListContainers(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]EntityRef, 0, len(containers))
	for _, c := range containers {
		refs = append(refs, EntityRef{
			ID:     c.ID,
			Name:   entityName(c),
			Image:  c.Image,
			Status: MapStatus(c.State),
		})
	}
	return refs, nil
}

func (d *DockerSource) EntityCounters(ctx context.Context, id string) (docker.Counters, error) {
	st, err := d.dc.Stats(ctx, id)
	if err != nil {
		return docker.Counters{}, err
	}
	return docker.NormalizeStats(st), nil
}

// MapStatus folds Docker container states into the four entity states.
func MapStatus(state string) models.EntityStatus {
	switch strings.ToLower(state) {
	case "running", "restarting":
		return models.StatusRunning
	case "paused":
		return models.StatusPaused
	case "created", "exited", "dead", "removing":
		return models.StatusStopped
	default:
		return models.StatusUnknown
	}
}

func entityName(c docker.ContainerSummary) string {
	if len(c.Names) > 0 {
		return strings.TrimPrefix(c.Names[0], "/")
	}
	return shortID(c.ID)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
