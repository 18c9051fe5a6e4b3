package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/hems/pkg/log"
	"github.com/raterudder/hems/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Every document stores its payload as a JSON string in the "json" field.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID may be empty and inferred from the environment.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func docJSON(ctx context.Context, doc *firestore.DocumentSnapshot, v any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc json", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

func docVersion(doc *firestore.DocumentSnapshot) int {
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			return int(vInt)
		}
	}
	return 0
}

// GetSettings retrieves the dynamic configuration from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	doc, err := f.client.Collection("config").Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}
	var s types.Settings
	if err := docJSON(ctx, doc, &s); err != nil {
		return types.Settings{}, 0, err
	}
	return s, docVersion(doc), nil
}

// SetSettings saves the dynamic configuration to the "config/settings" document.
func (f *FirestoreProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = f.client.Collection("config").Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (f *FirestoreProvider) deviceDoc(deviceID int64) *firestore.DocumentRef {
	return f.client.Collection("devices").Doc(strconv.FormatInt(deviceID, 10))
}

func deviceData(d types.Device) (map[string]interface{}, error) {
	jsonBytes, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal device: %w", err)
	}
	return map[string]interface{}{
		"json": string(jsonBytes),
		"id":   d.ID,
	}, nil
}

// ListDevices returns every device ordered by ID.
func (f *FirestoreProvider) ListDevices(ctx context.Context) ([]types.Device, error) {
	iter := f.client.Collection("devices").OrderBy("id", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var devices []types.Device
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating devices: %w", err)
		}
		var d types.Device
		if err := docJSON(ctx, doc, &d); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// SetDeviceOn updates the on/off state of a device in a transaction.
func (f *FirestoreProvider) SetDeviceOn(ctx context.Context, deviceID int64, on bool) (types.Device, error) {
	ref := f.deviceDoc(deviceID)
	var d types.Device
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: %d", ErrDeviceNotFound, deviceID)
			}
			return fmt.Errorf("failed to get device %d: %w", deviceID, err)
		}
		if err := docJSON(ctx, doc, &d); err != nil {
			return err
		}
		d.IsOn = on
		data, err := deviceData(d)
		if err != nil {
			return err
		}
		return tx.Set(ref, data)
	})
	if err != nil {
		return types.Device{}, err
	}
	return d, nil
}

// UpsertDevice inserts or replaces a device. A zero ID is replaced by one past
// the highest stored ID.
func (f *FirestoreProvider) UpsertDevice(ctx context.Context, d types.Device) (types.Device, error) {
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if d.ID == 0 {
			iter := tx.Documents(f.client.Collection("devices").OrderBy("id", firestore.Desc).Limit(1))
			defer iter.Stop()
			doc, err := iter.Next()
			switch {
			case err == iterator.Done:
				d.ID = 1
			case err != nil:
				return fmt.Errorf("failed to get latest device: %w", err)
			default:
				var last types.Device
				if err := docJSON(ctx, doc, &last); err != nil {
					return err
				}
				d.ID = last.ID + 1
			}
		}
		data, err := deviceData(d)
		if err != nil {
			return err
		}
		return tx.Set(f.deviceDoc(d.ID), data)
	})
	if err != nil {
		return types.Device{}, fmt.Errorf("failed to upsert device: %w", err)
	}
	return d, nil
}

// AppendEnergyRecord adds a record to the "energy_data" collection.
// The document ID is the RFC3339 timestamp for efficient range queries.
func (f *FirestoreProvider) AppendEnergyRecord(ctx context.Context, rec types.EnergyRecord, version int) error {
	if rec.Timestamp.IsZero() {
		return fmt.Errorf("energy record missing timestamp")
	}
	rec.ID = types.EnergyRecordID(rec.Timestamp)
	jsonBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal energy record: %w", err)
	}
	docID := rec.Timestamp.UTC().Format(time.RFC3339)
	_, err = f.client.Collection("energy_data").Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": rec.Timestamp,
		"version":   version,
	})
	if err != nil {
		return fmt.Errorf("failed to append energy record: %w", err)
	}
	return nil
}

// GetLatestEnergyRecord retrieves the last stored energy record.
func (f *FirestoreProvider) GetLatestEnergyRecord(ctx context.Context) (*types.EnergyRecord, error) {
	iter := f.client.Collection("energy_data").
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest energy record doc: %w", err)
	}
	var rec types.EnergyRecord
	if err := docJSON(ctx, doc, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetEnergyHistory retrieves energy records within the specified time range.
func (f *FirestoreProvider) GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyRecord, error) {
	coll := f.client.Collection("energy_data")
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(start.UTC().Format(time.RFC3339))).
		Where(firestore.DocumentID, "<", coll.Doc(end.UTC().Format(time.RFC3339))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var records []types.EnergyRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating energy records: %w", err)
		}
		var rec types.EnergyRecord
		if err := docJSON(ctx, doc, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
