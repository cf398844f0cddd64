package proc

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	log "github.com/go-pkgz/lgr"

	"podserve/internal/app/podserve/episode"
)

var episodesBucket = []byte("episodes")

// BoltDB store of episode records, one JSON value per episode id. Bolt
// transactions give atomic per-record replace and durability across restarts.
type BoltDB struct {
	DB *bolt.DB
}

// NewBoltDB creates a bolt store at the given path and ensures the episodes
// bucket exists.
func NewBoltDB(dbFile string) (*BoltDB, error) {
	db, err := bolt.Open(dbFile, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", dbFile, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(episodesBucket)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("create episodes bucket: %w", err)
	}
	return &BoltDB{DB: db}, nil
}

// Close the underlying bolt db.
func (b *BoltDB) Close() error {
	return b.DB.Close()
}

// UpsertEpisode saves an episode record keyed by its id. Re-upserting the
// same id overwrites the record, it never duplicates.
func (b *BoltDB) UpsertEpisode(ep *episode.Episode) error {
	if ep.ID == "" {
		return fmt.Errorf("episode for %s has empty id", ep.SourceURL)
	}

	err := b.DB.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(episodesBucket)

		jdata, jerr := json.Marshal(ep)
		if jerr != nil {
			return jerr
		}
		return bucket.Put([]byte(ep.ID), jdata)
	})
	if err != nil {
		return fmt.Errorf("save episode %s: %w", ep.ID, err)
	}

	log.Printf("[DEBUG] saved episode %s - %s - %s", ep.ID, ep.Status, ep.Title)
	return nil
}

// GetEpisode returns the episode by id, nil if not found.
func (b *BoltDB) GetEpisode(id string) (*episode.Episode, error) {
	var result *episode.Episode
	err := b.DB.View(func(tx *bolt.Tx) error {
		item := tx.Bucket(episodesBucket).Get([]byte(id))
		if item == nil {
			return nil
		}

		ep := episode.Episode{}
		if err := json.Unmarshal(item, &ep); err != nil {
			return fmt.Errorf("unmarshal episode %s: %w", id, err)
		}
		result = &ep
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FindEpisodesByStatus returns episodes with any of the given statuses,
// ordered by pub date then added time, newest first. No statuses means all
// episodes. Records that fail to parse are skipped with a warning so one
// corrupted entry never takes the whole store down.
func (b *BoltDB) FindEpisodesByStatus(statuses ...episode.Status) ([]*episode.Episode, error) {
	var result []*episode.Episode
	err := b.DB.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(episodesBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			item := episode.Episode{}
			if err := json.Unmarshal(v, &item); err != nil {
				log.Printf("[WARN] failed to unmarshal episode %s, %v", string(k), err)
				continue
			}
			if len(statuses) > 0 && !statusIn(item.Status, statuses) {
				continue
			}
			result = append(result, &item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].PubDate.Equal(result[j].PubDate) {
			return result[i].PubDate.After(result[j].PubDate)
		}
		return result[i].AddedAt.After(result[j].AddedAt)
	})
	return result, nil
}

// MarkFailed sets the failed status with a reason, keeping the record for
// visibility. Missing episodes get a minimal failed record so the outcome is
// never lost.
func (b *BoltDB) MarkFailed(id, sourceURL, reason string) error {
	ep, err := b.GetEpisode(id)
	if err != nil {
		return err
	}
	if ep == nil {
		ep = &episode.Episode{ID: id, SourceURL: sourceURL, AddedAt: time.Now()}
	}
	ep.Status = episode.StatusFailed
	ep.FailReason = reason
	return b.UpsertEpisode(ep)
}

// ResetStuck demotes downloading episodes back to pending. Called on startup:
// a downloading record can only mean the previous process died mid-claim, and
// the URL is still in the queue file for re-discovery.
func (b *BoltDB) ResetStuck() (int, error) {
	stuck, err := b.FindEpisodesByStatus(episode.StatusDownloading)
	if err != nil {
		return 0, err
	}
	for _, ep := range stuck {
		ep.Status = episode.StatusPending
		if err := b.UpsertEpisode(ep); err != nil {
			return 0, err
		}
		log.Printf("[WARN] reset stuck episode %s (%s) to pending", ep.ID, ep.SourceURL)
	}
	return len(stuck), nil
}

func statusIn(s episode.Status, in []episode.Status) bool {
	for _, v := range in {
		if s == v {
			return true
		}
	}
	return false
}
