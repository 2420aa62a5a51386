//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// mosquittoConfig allows anonymous connections on the default port.
const mosquittoConfig = `listener 1883
allow_anonymous true
`

// MosquittoContainer wraps an Eclipse Mosquitto broker.
type MosquittoContainer struct {
	container  testcontainers.Container
	brokerURL  string
	configFile string
}

// NewMosquittoContainer starts a broker using the given image tag ("2.0" when empty).
func NewMosquittoContainer(ctx context.Context, imageTag string) (*MosquittoContainer, error) {
	if imageTag == "" {
		imageTag = "2.0"
	}

	configFile, err := writeTempFile("mosquitto-*.conf", mosquittoConfig)
	if err != nil {
		return nil, err
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "eclipse-mosquitto:" + imageTag,
			ExposedPorts: []string{"1883/tcp"},
			Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
			Files: []testcontainers.ContainerFile{{
				HostFilePath:      configFile,
				ContainerFilePath: "/mosquitto-no-auth.conf",
				FileMode:          0o644,
			}},
			WaitingFor: wait.ForLog("mosquitto version").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		_ = os.Remove(configFile)
		return nil, fmt.Errorf("failed to start Mosquitto container: %w", err)
	}

	mc := &MosquittoContainer{container: container, configFile: configFile}
	host, err := container.Host(ctx)
	if err != nil {
		_ = mc.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "1883")
	if err != nil {
		_ = mc.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}
	mc.brokerURL = "tcp://" + net.JoinHostPort(host, port.Port())
	return mc, nil
}

func writeTempFile(pattern, content string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return f.Name(), nil
}

// BrokerURL returns the broker address, e.g. "tcp://localhost:32771".
func (c *MosquittoContainer) BrokerURL(t *testing.T) string {
	t.Helper()
	if c.brokerURL == "" {
		t.Fatal("broker URL is empty")
	}
	return c.brokerURL
}

// Subscribe connects a raw client and delivers every message on topic to the
// returned channel. The client is disconnected when the test ends.
func (c *MosquittoContainer) Subscribe(t *testing.T, topic string) <-chan mqtt.Message {
	t.Helper()
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.brokerURL)
	opts.SetClientID(fmt.Sprintf("subscriber-%d", time.Now().UnixNano()))
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		t.Fatalf("subscriber connect failed: %v", token.Error())
	}
	t.Cleanup(func() { client.Disconnect(250) })

	msgs := make(chan mqtt.Message, 16)
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case msgs <- msg:
		default:
		}
	})
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("subscribe to %s failed: %v", topic, token.Error())
	}
	return msgs
}

// Terminate stops the container and removes the temporary config file.
func (c *MosquittoContainer) Terminate(ctx context.Context) error {
	var terminateErr error
	if c.container != nil {
		if err := c.container.Terminate(ctx); err != nil {
			terminateErr = fmt.Errorf("failed to terminate container: %w", err)
		}
	}
	if c.configFile != "" {
		_ = os.Remove(c.configFile)
	}
	return terminateErr
}
