package id

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

const JobPrefix = "job_"

// NewJob returns a 24 hex digit job id with the job prefix.
func NewJob() string {
	return New(JobPrefix)
}

func New(prefix string) string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return prefix + strconv.FormatInt(time.Now().UTC().UnixNano(), 16)
	}
	return prefix + hex.EncodeToString(b[:])
}
