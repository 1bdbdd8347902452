package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/jessevdk/go-flags"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/Aste21/Lodz-Hack/internal/feed"
	"github.com/Aste21/Lodz-Hack/internal/models"
	"github.com/Aste21/Lodz-Hack/internal/snapshot"
)

type options struct {
	Kind  string `short:"k" long:"kind" default:"vehicle_positions" description:"Feed kind when no file is given (alerts, vehicle_positions)"`
	Dir   string `short:"d" long:"dir" description:"Snapshot directory (defaults to saved_<kind>)"`
	JSON  bool   `long:"json" description:"Print the whole message as protobuf JSON"`
	Debug bool   `long:"debug" description:"Enable debug logging"`
	Args  struct {
		File string `positional-arg-name:"FILE" description:"Snapshot .bin file to decode"`
	} `positional-args:"yes"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	snap, err := load(opts)
	if err != nil {
		slog.Error("Failed to load snapshot", "error", err)
		os.Exit(1)
	}
	if snap == nil {
		slog.Info("No snapshots found", "kind", opts.Kind)
		return
	}

	if err := inspect(os.Stdout, snap, opts.JSON); err != nil {
		slog.Error("Failed to inspect snapshot", "error", err)
		os.Exit(1)
	}
}

// load reads the named file, or the newest snapshot of the chosen kind.
// --kind is only consulted when the file name does not carry a kind.
func load(opts options) (*models.Snapshot, error) {
	if opts.Args.File != "" {
		if snap, err := snapshot.Read(opts.Args.File); err == nil {
			return snap, nil
		}
		// Not named like a snapshot; trust --kind
		kind, err := models.ParseFeedKind(opts.Kind)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(opts.Args.File)
		if err != nil {
			return nil, err
		}
		slog.Debug("File name carries no capture time", "file", opts.Args.File)
		return &models.Snapshot{Kind: kind, Payload: data}, nil
	}

	kind, err := models.ParseFeedKind(opts.Kind)
	if err != nil {
		return nil, err
	}
	dir := opts.Dir
	if dir == "" {
		dir = "saved_" + kind.String()
	}
	files, err := snapshot.ListDir(dir, kind)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	newest := files[len(files)-1]
	slog.Debug("Using newest snapshot", "file", filepath.Base(newest), "total", len(files))
	return snapshot.Read(newest)
}

func inspect(w io.Writer, snap *models.Snapshot, asJSON bool) error {
	if asJSON {
		var fm gtfsrtpb.FeedMessage
		if err := proto.Unmarshal(snap.Payload, &fm); err != nil {
			return &feed.DecodeError{Size: len(snap.Payload), Err: err}
		}
		out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(&fm)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	}

	msg, err := feed.Decode(snap.Payload, snap.Kind)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Feed:       %s\n", snap.Kind)
	if !snap.CapturedAt.IsZero() {
		fmt.Fprintf(w, "Captured:   %s\n", snap.CapturedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Version:    %s\n", msg.Version)
	if msg.HeaderTimestamp > 0 {
		fmt.Fprintf(w, "Header:     %s\n", time.Unix(int64(msg.HeaderTimestamp), 0).UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Entities:   %d\n", len(msg.Entities))

	for _, e := range msg.Entities {
		switch ent := e.(type) {
		case *models.Alert:
			fmt.Fprintf(w, "\nAlert %s: %s\n", ent.ID, ent.Header)
			fmt.Fprintf(w, "  Cause/effect: %s / %s\n", ent.Cause, ent.Effect)
			for _, p := range ent.ActivePeriods {
				fmt.Fprintf(w, "  Active: %s - %s\n", formatBound(p.Start), formatBound(p.End))
			}
			for _, ie := range ent.InformedEntities {
				fmt.Fprintf(w, "  Affects: route=%s stop=%s trip=%s\n", ie.RouteID, ie.StopID, ie.TripID)
			}
		case *models.VehiclePosition:
			fmt.Fprintf(w, "\nVehicle %s (%s) at %.5f, %.5f", ent.ID, ent.VehicleID, ent.Location.Lat, ent.Location.Lon)
			if ent.HasTripAssociation() {
				fmt.Fprintf(w, " trip=%s route=%s", ent.TripID, ent.RouteID)
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}

func formatBound(t *uint64) string {
	if t == nil {
		return "open"
	}
	return time.Unix(int64(*t), 0).UTC().Format(time.RFC3339)
}
