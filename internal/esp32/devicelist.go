package esp32

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// DefaultDeviceListPort is the port assigned to devices loaded from a list.
const DefaultDeviceListPort = 9999

// maxDeviceListBytes caps the size of a device list response.
const maxDeviceListBytes = 1 << 20

// DeviceList is the JSON document served by a device directory.
type DeviceList struct {
	Data []DeviceListItem `json:"data"`
}

// DeviceListItem is one entry of a DeviceList.
type DeviceListItem struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// DeviceListLoader fetches a device list over HTTP and installs it on a
// Manager.
type DeviceListLoader struct {
	url        string
	port       int
	httpClient *http.Client
	logger     Logger
}

// NewDeviceListLoader creates a loader. port 0 means DefaultDeviceListPort.
func NewDeviceListLoader(url string, port int, logger Logger) *DeviceListLoader {
	if port == 0 {
		port = DefaultDeviceListPort
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &DeviceListLoader{
		url:        url,
		port:       port,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// URL returns the list location.
func (l *DeviceListLoader) URL() string { return l.url }

// Fetch downloads the list and converts it to device configs sorted by name.
func (l *DeviceListLoader) Fetch(ctx context.Context) ([]DeviceConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrDeviceListFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceListFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrDeviceListFetch, l.url, resp.Status)
	}

	var list DeviceList
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDeviceListBytes)).Decode(&list); err != nil {
		return nil, fmt.Errorf("%w: decoding: %w", ErrDeviceListFetch, err)
	}

	return list.Configs(l.port), nil
}

// Configs converts the list to device configs sorted by name.
func (list DeviceList) Configs(port int) []DeviceConfig {
	items := append([]DeviceListItem(nil), list.Data...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	configs := make([]DeviceConfig, 0, len(items))
	for _, it := range items {
		configs = append(configs, DeviceConfig{
			Name:    it.Name,
			Address: it.IP,
			Port:    port,
		})
	}
	return configs
}

// Load fetches the list, then on the frame goroutine replaces the
// manager's device list, enables it and restarts it. On fetch failure the
// manager is enabled with the list it already has, and the error is
// returned.
func (l *DeviceListLoader) Load(ctx context.Context, m *Manager) error {
	devices, fetchErr := l.Fetch(ctx)
	if fetchErr != nil {
		l.logger.Warn("loading device list failed, keeping configured devices", "url", l.url, "error", fetchErr)
	} else {
		l.logger.Info("device list loaded", "url", l.url, "devices", len(devices))
	}

	err := m.Do(ctx, func() error {
		if fetchErr == nil {
			m.SetDeviceConfigs(devices)
		}
		m.SetEnabled(true)
		return m.Restart()
	})
	if err != nil {
		return fmt.Errorf("applying device list: %w", err)
	}
	return fetchErr
}
