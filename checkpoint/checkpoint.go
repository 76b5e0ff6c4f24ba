// checkpoint creates Store which saves and loads chain checkpoints.
package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/op/go-logging"

	bolt "go.etcd.io/bbolt"

	"bitbucket.org/Davydov/pmcmc/schedule"
	"bitbucket.org/Davydov/pmcmc/state"
)

// log is the global logging variable.
var log = logging.MustGetLogger("checkpoint")

// MAIN is the bucket name for all the checkpoints
var MAIN = []byte("main")

// Data stores the chain state.
type Data struct {
	RunID        string               `json:"runId"`
	Values       map[string][]float64 `json:"values"`
	LogPosterior float64              `json:"logPosterior"`
	SampleNr     int64                `json:"sampleNr"`
	Final        bool                 `json:"final"`
	Time         time.Time            `json:"time"`
}

// Store saves checkpoints of a chain.
type Store struct {
	db          *bolt.DB
	key         string
	runID       string
	chainLength int64
}

// NewStore creates a new Store. Checkpoints at or after chainLength
// are final.
func NewStore(db *bolt.DB, key string, chainLength int64) (s *Store) {
	s = &Store{
		db:          db,
		key:         key,
		runID:       uuid.New().String(),
		chainLength: chainLength,
	}
	return
}

// RunID returns the run identifier.
func (s *Store) RunID() string {
	return s.runID
}

// SetRunID changes the run identifier, used when resuming a run.
func (s *Store) SetRunID(id string) {
	s.runID = id
}

func (s *Store) stateKey() []byte {
	return []byte(s.key + "/state")
}

func (s *Store) scheduleKey() []byte {
	return []byte(s.key + "/operators")
}

// Checkpoint saves the state after sample sampleNr.
func (s *Store) Checkpoint(st *state.State, sampleNr int64, logP float64) error {
	data := &Data{
		RunID:        s.runID,
		Values:       st.Snapshot(),
		LogPosterior: logP,
		SampleNr:     sampleNr,
		Final:        sampleNr >= s.chainLength,
		Time:         time.Now(),
	}
	dataB, err := json.Marshal(data)
	if err != nil {
		log.Error("Error serializing checkpoint", err)
		return err
	}
	err = SaveData(s.db, s.stateKey(), dataB)
	if err != nil {
		log.Error("Error saving checkpoint", err)
		return err
	}
	log.Debugf("Saved checkpoint at sample %d", sampleNr)
	return nil
}

// CheckpointSchedule saves the operator states.
func (s *Store) CheckpointSchedule(sch *schedule.Schedule) error {
	dataB, err := json.Marshal(sch.Snapshot())
	if err != nil {
		log.Error("Error serializing operators", err)
		return err
	}
	err = SaveData(s.db, s.scheduleKey(), dataB)
	if err != nil {
		log.Error("Error saving operators", err)
	}
	return err
}

// Load returns the last saved state or nil.
func (s *Store) Load() (*Data, error) {
	var data *Data

	b, err := LoadData(s.db, s.stateKey())

	if err != nil || b == nil {
		return nil, err
	}

	err = json.Unmarshal(b, &data)

	if err != nil {
		return nil, err
	}

	if data == nil || len(data.Values) == 0 {
		return nil, nil
	}

	if data.Final {
		log.Noticef("Found finished chain checkpoint (sample=%v, logP=%v)", data.SampleNr, data.LogPosterior)
	} else {
		log.Noticef("Found unfinished chain checkpoint (sample=%v, logP=%v)", data.SampleNr, data.LogPosterior)
	}

	return data, nil
}

// LoadSchedule returns the saved operator states or nil.
func (s *Store) LoadSchedule() (map[string]schedule.OperatorState, error) {
	b, err := LoadData(s.db, s.scheduleKey())
	if err != nil || b == nil {
		return nil, err
	}
	var ops map[string]schedule.OperatorState
	if err := json.Unmarshal(b, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// SaveData saves values in bolt database.
func SaveData(db *bolt.DB, key []byte, data []byte) error {
	if db == nil {
		return nil
	}
	err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(MAIN)
		if err != nil {
			return err
		}

		err = b.Put(key, data)
		return err
	})
	return err
}

// LoadData loads data from bolt database.
func LoadData(db *bolt.DB, key []byte) ([]byte, error) {
	var data []byte
	if db == nil {
		return nil, nil
	}
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(MAIN)
		if b == nil {
			return nil
		}

		// v is only valid inside the transaction
		if v := b.Get(key); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
