package engine

import (
	"fmt"

	"github.com/bytedance/sonic"
)

const journalVersion = 1

// journal is the replayable script state stored in a capture's heap blob
type journal struct {
	Version int      `json:"v"`
	Scripts []string `json:"scripts"`
	bytes   int64
}

func (j *journal) append(script string) {
	j.Scripts = append(j.Scripts, script)
	j.bytes += int64(len(script))
}

func (j *journal) size() int64 {
	return j.bytes
}

func (j *journal) marshal() ([]byte, error) {
	j.Version = journalVersion
	data, err := sonic.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to encode journal: %w", err)
	}
	return data, nil
}

func decodeJournal(data []byte) (journal, error) {
	var j journal
	if len(data) == 0 {
		return j, nil
	}
	if err := sonic.Unmarshal(data, &j); err != nil {
		return journal{}, fmt.Errorf("%w: %v", ErrJournal, err)
	}
	if j.Version != journalVersion {
		return journal{}, fmt.Errorf("%w: version %d", ErrJournal, j.Version)
	}
	for _, s := range j.Scripts {
		j.bytes += int64(len(s))
	}
	return j, nil
}
