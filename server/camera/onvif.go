package camera

import (
	"context"
	"fmt"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/use-go/onvif"
	onvifDevice "github.com/use-go/onvif/device"
	onvifMedia "github.com/use-go/onvif/media"
	sdkDevice "github.com/use-go/onvif/sdk/device"
	sdkMedia "github.com/use-go/onvif/sdk/media"
)

const CameraBrandGenericONVIF CameraBrand = "Generic ONVIF"

// Whatever we have discovered about the camera via ONVIF
type OnvifDeviceInfo struct {
	Brand       CameraBrand
	Model       string
	Firmware    string
	Serial      string
	Profile     string // Name of the media profile that SnapshotURL belongs to
	SnapshotURL string
}

// Use ONVIF to find the camera's brand, and the snapshot URL of its main profile.
// host is an address such as 192.168.10.5 or 192.168.10.5:8000
func OnvifGetDeviceInfo(ctx context.Context, host, username, password string) (*OnvifDeviceInfo, error) {
	dev, err := onvif.NewDevice(onvif.DeviceParams{
		Xaddr:    host,
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("Error connecting to ONVIF device %v: %w", host, err)
	}

	result := &OnvifDeviceInfo{}

	devInfo, err := sdkDevice.Call_GetDeviceInformation(ctx, dev, onvifDevice.GetDeviceInformation{})
	if err != nil {
		return nil, fmt.Errorf("Error fetching ONVIF device info: %w", err)
	}
	switch strings.ToUpper(devInfo.Manufacturer) {
	case "REOLINK":
		result.Brand = CameraBrandReolink
	case "HIKVISION":
		result.Brand = CameraBrandHikVision
	default:
		result.Brand = CameraBrandGenericONVIF
	}
	result.Model = devInfo.Model
	result.Firmware = devInfo.FirmwareVersion
	result.Serial = devInfo.SerialNumber

	resp, err := sdkMedia.Call_GetProfiles(ctx, dev, onvifMedia.GetProfiles{})
	if err != nil {
		return nil, fmt.Errorf("Error fetching ONVIF profiles: %w", err)
	}
	if len(resp.Profiles) == 0 {
		return nil, fmt.Errorf("ONVIF device %v has no media profiles", host)
	}

	// Prefer the main stream, because small flames are lost in a sub stream
	profile := resp.Profiles[0]
	for _, p := range resp.Profiles {
		if strings.Contains(strings.ToUpper(string(p.Name)), "MAIN") {
			profile = p
			break
		}
	}
	result.Profile = string(profile.Name)

	snap, err := sdkMedia.Call_GetSnapshotUri(ctx, dev, onvifMedia.GetSnapshotUri{ProfileToken: profile.Token})
	if err != nil {
		return nil, fmt.Errorf("Error fetching ONVIF snapshot URI: %w", err)
	}
	result.SnapshotURL = string(snap.MediaUri.Uri)
	if result.SnapshotURL == "" {
		return nil, fmt.Errorf("ONVIF device %v does not publish a snapshot URI for profile %v", host, result.Profile)
	}
	return result, nil
}

// OnvifSource discovers the snapshot URL with ONVIF every time it starts,
// and then polls it like an HTTPSource.
type OnvifSource struct {
	log logs.Log
	cfg Config
}

func NewOnvifSource(log logs.Log, cfg Config) *OnvifSource {
	return &OnvifSource{
		log: log,
		cfg: cfg,
	}
}

func (o *OnvifSource) Start(ctx context.Context) (*Stream, error) {
	info, err := OnvifGetDeviceInfo(ctx, o.cfg.URL, o.cfg.Username, o.cfg.Password)
	if err != nil {
		return nil, err
	}
	o.log.Infof("ONVIF camera %v: %v %v (firmware %v), profile %v", o.cfg.URL, info.Brand, info.Model, info.Firmware, info.Profile)
	cfg := o.cfg
	cfg.URL = info.SnapshotURL
	return NewHTTPSource(o.log, cfg).Start(ctx)
}
