package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"
)

// BuildOutputCallback is invoked with incremental build messages.
type BuildOutputCallback func(string)

// BuildImage creates a Docker image from the provided directory using the
// default Dockerfile.
func (c *Client) BuildImage(ctx context.Context, dir, tag string, onOutput BuildOutputCallback) error {
	if c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	if dir == "" {
		return fmt.Errorf("build directory cannot be empty")
	}
	if tag == "" {
		return fmt.Errorf("image tag cannot be empty")
	}
	buildCtx, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer buildCtx.Close()

	opts := types.ImageBuildOptions{
		Tags:        []string{tag},
		Remove:      true,
		ForceRemove: true,
	}
	resp, err := c.inner.ImageBuild(ctx, buildCtx, opts)
	if err != nil {
		return fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	for {
		var msg imageBuildMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("decode build output: %w", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return fmt.Errorf("docker image build: %s", errMsg)
		}
		if line := strings.TrimSpace(msg.Stream); line != "" && onOutput != nil {
			onOutput(line)
		}
	}
	return nil
}

type imageBuildMessage struct {
	Stream      string                `json:"stream"`
	Error       string                `json:"error"`
	ErrorDetail imageBuildErrorDetail `json:"errorDetail"`
}

type imageBuildErrorDetail struct {
	Message string `json:"message"`
}

func (m imageBuildMessage) errorMessage() string {
	if strings.TrimSpace(m.Error) != "" {
		return strings.TrimSpace(m.Error)
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}
