package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/AnshRaj112/trialguard-backend/internal/models"
)

// TransactionalKV is the single primitive a key-value backend needs to host
// the correlation records.
type TransactionalKV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// ReadModifyWrite applies fn to the current value (nil when absent) and
	// stores the result atomically. fn may run more than once and must not
	// have side effects. Returning a nil value leaves the key untouched.
	ReadModifyWrite(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
	Delete(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error
	Ping(ctx context.Context) error
}

const (
	deviceKeyPrefix       = "device:"
	networkKeyPrefix      = "network:"
	subscriptionKeyPrefix = "subscription:"
	// userDevicesKeyPrefix + UsageKey(userID) holds the device ids that carry usage for that user
	userDevicesKeyPrefix = "user_devices:"
)

// KVStore implements Store on top of any TransactionalKV.
type KVStore struct {
	kv   TransactionalKV
	nowF func() time.Time
}

func NewKVStore(kv TransactionalKV) *KVStore {
	return &KVStore{kv: kv, nowF: time.Now}
}

// SetClock overrides the timestamp source.
func (s *KVStore) SetClock(now func() time.Time) {
	s.nowF = now
}

func (s *KVStore) now() time.Time {
	return s.nowF().UTC()
}

func (s *KVStore) GetDeviceRecord(ctx context.Context, deviceID string) (*models.DeviceTrialRecord, error) {
	var rec models.DeviceTrialRecord
	if err := s.getJSON(ctx, deviceKeyPrefix+deviceID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *KVStore) EnsureDeviceRecord(ctx context.Context, deviceID string) (*models.DeviceTrialRecord, error) {
	var out models.DeviceTrialRecord
	err := s.kv.ReadModifyWrite(ctx, deviceKeyPrefix+deviceID, func(cur []byte) ([]byte, error) {
		if cur != nil {
			return nil, json.Unmarshal(cur, &out)
		}
		out = s.newDevice(deviceID)
		return json.Marshal(out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *KVStore) GetNetworkRecord(ctx context.Context, prefix string) (*models.NetworkTrialRecord, error) {
	var rec models.NetworkTrialRecord
	if err := s.getJSON(ctx, networkKeyPrefix+prefix, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetUserCount reads only the devices listed in the user's index. Entries
// for removed or reset devices contribute nothing.
func (s *KVStore) GetUserCount(ctx context.Context, userID string) (int, error) {
	key := models.UsageKey(userID)
	var deviceIDs []string
	err := s.getJSON(ctx, userDevicesKeyPrefix+key, &deviceIDs)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range deviceIDs {
		rec, err := s.GetDeviceRecord(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		total += rec.UserReports[key]
	}
	return total, nil
}

func (s *KVStore) GetSubscriptionStatus(ctx context.Context, firmID string) (*models.SubscriptionStatus, error) {
	var sub models.SubscriptionStatus
	if err := s.getJSON(ctx, subscriptionKeyPrefix+firmID, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *KVStore) UpsertDeviceRecord(ctx context.Context, rec *models.DeviceTrialRecord) error {
	return s.put(ctx, deviceKeyPrefix+rec.DeviceID, rec)
}

func (s *KVStore) UpsertNetworkRecord(ctx context.Context, rec *models.NetworkTrialRecord) error {
	return s.put(ctx, networkKeyPrefix+rec.NetworkPrefix, rec)
}

func (s *KVStore) UpsertSubscriptionStatus(ctx context.Context, sub *models.SubscriptionStatus) error {
	return s.put(ctx, subscriptionKeyPrefix+sub.FirmID, sub)
}

func (s *KVStore) IncrementReports(ctx context.Context, deviceID, userID string) (*models.DeviceTrialRecord, error) {
	if userID != "" {
		// index first: a device holding usage for userID is always listed
		if err := s.indexUserDevice(ctx, userID, deviceID); err != nil {
			return nil, fmt.Errorf("index user device: %w", err)
		}
	}
	out, err := s.updateDevice(ctx, deviceID, true, func(rec *models.DeviceTrialRecord) bool {
		rec.ReportsGenerated++
		if userID != "" {
			if rec.UserReports == nil {
				rec.UserReports = make(map[string]int)
			}
			rec.UserReports[models.UsageKey(userID)]++
			rec.LinkedAccountIDs, _ = models.AddUnique(rec.LinkedAccountIDs, userID)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *KVStore) indexUserDevice(ctx context.Context, userID, deviceID string) error {
	return s.kv.ReadModifyWrite(ctx, userDevicesKeyPrefix+models.UsageKey(userID), func(cur []byte) ([]byte, error) {
		var ids []string
		if cur != nil {
			if err := json.Unmarshal(cur, &ids); err != nil {
				return nil, err
			}
		}
		ids, added := models.AddUnique(ids, deviceID)
		if !added {
			return nil, nil
		}
		return json.Marshal(ids)
	})
}

func (s *KVStore) LinkAccountToDevice(ctx context.Context, deviceID, userID string) error {
	_, err := s.updateDevice(ctx, deviceID, true, func(rec *models.DeviceTrialRecord) bool {
		var added bool
		rec.LinkedAccountIDs, added = models.AddUnique(rec.LinkedAccountIDs, userID)
		return added
	})
	return err
}

func (s *KVStore) SetFirmActivated(ctx context.Context, deviceID, firmID string) (bool, error) {
	var wrote bool
	_, err := s.updateDevice(ctx, deviceID, false, func(rec *models.DeviceTrialRecord) bool {
		wrote = rec.FirmActivated == "" && firmID != ""
		if wrote {
			rec.FirmActivated = firmID
		}
		return wrote
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return wrote, err
}

func (s *KVStore) SetDeviceNetwork(ctx context.Context, deviceID, prefix string) error {
	_, err := s.updateDevice(ctx, deviceID, false, func(rec *models.DeviceTrialRecord) bool {
		if rec.NetworkPrefix == prefix {
			return false
		}
		rec.NetworkPrefix = prefix
		return true
	})
	return err
}

func (s *KVStore) LinkNetwork(ctx context.Context, prefix string, link models.NetworkLink) error {
	return s.kv.ReadModifyWrite(ctx, networkKeyPrefix+prefix, func(cur []byte) ([]byte, error) {
		var rec models.NetworkTrialRecord
		now := s.now()
		if cur == nil {
			rec = models.NetworkTrialRecord{NetworkPrefix: prefix, CreatedAt: now}
		} else if err := json.Unmarshal(cur, &rec); err != nil {
			return nil, err
		}
		rec.LinkedFirmIDs, _ = models.AddUnique(rec.LinkedFirmIDs, link.FirmID)
		rec.LinkedDeviceIDs, _ = models.AddUnique(rec.LinkedDeviceIDs, link.DeviceID)
		rec.LinkedUserIDs, _ = models.AddUnique(rec.LinkedUserIDs, link.UserID)
		rec.UpdatedAt = now
		return json.Marshal(rec)
	})
}

func (s *KVStore) SetWhitelist(ctx context.Context, kind models.RecordKind, id string, whitelisted bool) error {
	switch kind {
	case models.RecordKindDevice:
		_, err := s.updateDevice(ctx, id, false, func(rec *models.DeviceTrialRecord) bool {
			rec.IsWhitelisted = whitelisted
			return true
		})
		return err
	case models.RecordKindNetwork:
		return s.kv.ReadModifyWrite(ctx, networkKeyPrefix+id, func(cur []byte) ([]byte, error) {
			if cur == nil {
				return nil, ErrNotFound
			}
			var rec models.NetworkTrialRecord
			if err := json.Unmarshal(cur, &rec); err != nil {
				return nil, err
			}
			rec.IsWhitelisted = whitelisted
			rec.UpdatedAt = s.now()
			return json.Marshal(rec)
		})
	default:
		return ErrInvalidKind
	}
}

func (s *KVStore) ResetDeviceCounter(ctx context.Context, deviceID string) error {
	_, err := s.updateDevice(ctx, deviceID, false, func(rec *models.DeviceTrialRecord) bool {
		rec.ReportsGenerated = 0
		rec.UserReports = nil
		return true
	})
	return err
}

func (s *KVStore) RemoveRecord(ctx context.Context, kind models.RecordKind, id string) error {
	var key string
	switch kind {
	case models.RecordKindDevice:
		key = deviceKeyPrefix + id
	case models.RecordKindNetwork:
		key = networkKeyPrefix + id
	default:
		return ErrInvalidKind
	}
	deleted, err := s.kv.Delete(ctx, key)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

func (s *KVStore) ListDeviceRecords(ctx context.Context, limit int) ([]models.DeviceTrialRecord, error) {
	var out []models.DeviceTrialRecord
	err := s.kv.Scan(ctx, deviceKeyPrefix, func(_ string, value []byte) error {
		var rec models.DeviceTrialRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *KVStore) ListNetworkRecords(ctx context.Context) ([]models.NetworkTrialRecord, error) {
	var out []models.NetworkTrialRecord
	err := s.kv.Scan(ctx, networkKeyPrefix, func(_ string, value []byte) error {
		var rec models.NetworkTrialRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *KVStore) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

func (s *KVStore) newDevice(deviceID string) models.DeviceTrialRecord {
	now := s.now()
	return models.DeviceTrialRecord{DeviceID: deviceID, CreatedAt: now, UpdatedAt: now}
}

// updateDevice runs mutate inside one read-modify-write and returns the
// record as last written. mutate returns false when nothing changed so no
// write is issued.
func (s *KVStore) updateDevice(ctx context.Context, deviceID string, create bool, mutate func(*models.DeviceTrialRecord) bool) (models.DeviceTrialRecord, error) {
	var out models.DeviceTrialRecord
	err := s.kv.ReadModifyWrite(ctx, deviceKeyPrefix+deviceID, func(cur []byte) ([]byte, error) {
		var rec models.DeviceTrialRecord
		switch {
		case cur != nil:
			if err := json.Unmarshal(cur, &rec); err != nil {
				return nil, fmt.Errorf("decode device %s: %w", deviceID, err)
			}
		case create:
			rec = s.newDevice(deviceID)
		default:
			return nil, ErrNotFound
		}
		changed := mutate(&rec)
		out = rec
		if !changed && cur != nil {
			return nil, nil
		}
		rec.UpdatedAt = s.now()
		out = rec
		return json.Marshal(rec)
	})
	return out, err
}

func (s *KVStore) getJSON(ctx context.Context, key string, dst any) error {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (s *KVStore) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.kv.ReadModifyWrite(ctx, key, func([]byte) ([]byte, error) {
		return data, nil
	})
}

var _ Store = (*KVStore)(nil)
