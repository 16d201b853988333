//go:build cgo
// +build cgo

// Package main provides the trackerd CLI: the command-line wrapper around
// pkg/tracker, generalized from the teacher's flag-based single-purpose
// binary into a Cobra command tree with a dedicated calibrate subcommand.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/osvr-go/unifiedtracker/internal/beaconfile"
	"github.com/osvr-go/unifiedtracker/internal/capture"
	"github.com/osvr-go/unifiedtracker/internal/config"
	"github.com/osvr-go/unifiedtracker/internal/history"
	"github.com/osvr-go/unifiedtracker/internal/imuserial"
	"github.com/osvr-go/unifiedtracker/internal/report"
	"github.com/osvr-go/unifiedtracker/pkg/bodycontainer"
	"github.com/osvr-go/unifiedtracker/pkg/tracker"
)

var version = "0.1.0"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "trackerd",
		Short: "Unified video-inertial tracker daemon for OSVR-family HMDs",
		Long: `trackerd fuses IR beacon video tracking with an optional IMU feed
to produce a low-latency 6DOF pose for one or more rigid bodies.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML configuration file")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd(&configPath))
	rootCmd.AddCommand(newCalibrateCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("trackerd version %s\n", version)
		},
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	var (
		beaconsPath string
		bodyID      int
		imuPort     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tracker against a live camera and optional IMU",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTracker(*configPath, beaconsPath, bodyID, imuPort, nil)
		},
	}
	cmd.Flags().StringVar(&beaconsPath, "beacons", "", "path to the body's beacon table YAML file (required)")
	cmd.Flags().IntVar(&bodyID, "body-id", 1, "body ID to assign the beacon table")
	cmd.Flags().StringVar(&imuPort, "imu-port", "", "serial port for the reference IMU source (disabled if empty)")
	cmd.MarkFlagRequired("beacons")

	return cmd
}

func newCalibrateCmd(configPath *string) *cobra.Command {
	var (
		beaconsPath string
		bodyID      int
		imuPort     string
		historyDir  string
	)

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Run the tracker with a persistent calibration history",
		Long: `calibrate behaves like run, but backs the body's state history
with a disk-resident store (internal/history) instead of the in-memory
default, so a long room-calibration session survives a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := history.Open(historyDir)
			if err != nil {
				return fmt.Errorf("trackerd: opening calibration history: %w", err)
			}
			defer hist.Close()
			return runTracker(*configPath, beaconsPath, bodyID, imuPort, hist)
		},
	}
	cmd.Flags().StringVar(&beaconsPath, "beacons", "", "path to the body's beacon table YAML file (required)")
	cmd.Flags().IntVar(&bodyID, "body-id", 1, "body ID to assign the beacon table")
	cmd.Flags().StringVar(&imuPort, "imu-port", "", "serial port for the reference IMU source (disabled if empty)")
	cmd.Flags().StringVar(&historyDir, "history-dir", "./trackerd-history", "directory for the persistent calibration history store")
	cmd.MarkFlagRequired("beacons")

	return cmd
}

// runTracker wires the tracker's collaborators together and blocks until a
// shutdown signal arrives, mirroring the teacher's main loop shape
// (cmd/miface/main.go) generalized to Cobra and the tracker core's
// Subscribe/Report surface instead of a single VMC sender callback.
func runTracker(configPath, beaconsPath string, bodyID int, imuPort string, hist bodycontainer.HistorySnapshotter) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("trackerd: loading config: %w", err)
	}

	table, err := beaconfile.Load(beaconsPath)
	if err != nil {
		return fmt.Errorf("trackerd: loading beacon table: %w", err)
	}

	cam := capture.NewOpenCVCamera()
	if err := cam.Open(cfg.Camera.DeviceID, cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS); err != nil {
		return fmt.Errorf("trackerd: opening camera: %w", err)
	}
	defer cam.Close()

	width, height := cam.GetActualResolution()
	log.Printf("trackerd: camera opened: device=%d %dx%d@%dfps", cfg.Camera.DeviceID, width, height, cam.GetActualFPS())

	spec := tracker.BodySpec{ID: bodyID, Table: table, HasIMU: imuPort != "", History: hist}
	trk, err := tracker.New(cfg, cam, []tracker.BodySpec{spec})
	if err != nil {
		return fmt.Errorf("trackerd: creating tracker: %w", err)
	}
	defer trk.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sender *report.OSCSender
	if cfg.Report.Enabled {
		sender, err = report.NewOSCSender(cfg.Report.Address, cfg.Report.Port)
		if err != nil {
			return fmt.Errorf("trackerd: creating OSC sender: %w", err)
		}
		defer sender.Close()
		log.Printf("trackerd: reporting body poses to %s:%d", cfg.Report.Address, cfg.Report.Port)
	}

	if imuPort != "" {
		port, err := imuserial.Open(imuPort, nil)
		if err != nil {
			return fmt.Errorf("trackerd: opening IMU serial port: %w", err)
		}
		defer port.Close()

		go func() {
			if err := port.Run(ctx, trk); err != nil {
				log.Printf("trackerd: IMU serial reader stopped: %v", err)
			}
		}()
		log.Printf("trackerd: reading IMU samples from %s", imuPort)
	}

	reports := trk.Subscribe()
	go forwardReports(reports, sender)

	trk.PermitStart()
	go func() {
		if err := trk.Run(ctx); err != nil {
			log.Printf("trackerd: tracker run loop exited: %v", err)
		}
	}()
	log.Println("trackerd: tracking started, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("trackerd: received signal %v, shutting down", sig)

	cancel()
	if err := trk.Stop(); err != nil {
		log.Printf("trackerd: stop: %v", err)
	}
	return nil
}

// forwardReports relays every ReportBodyPose the tracker publishes to the
// OSC sender, if one is configured. Runs until reports is closed by
// Tracker.Close.
func forwardReports(reports <-chan tracker.Report, sender *report.OSCSender) {
	for r := range reports {
		if r.Kind != tracker.ReportBodyPose || sender == nil {
			continue
		}
		pose := report.BodyPose{
			BodyID:    r.Pose.BodyID,
			PositionX: r.Pose.Position[0],
			PositionY: r.Pose.Position[1],
			PositionZ: r.Pose.Position[2],
			QuatX:     r.Pose.Orientation.X,
			QuatY:     r.Pose.Orientation.Y,
			QuatZ:     r.Pose.Orientation.Z,
			QuatW:     r.Pose.Orientation.W,
			Valid:     r.Pose.Valid,
		}
		if err := sender.Send(pose); err != nil {
			log.Printf("trackerd: OSC send: %v", err)
		}
	}
}
