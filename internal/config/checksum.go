package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
)

type workloadChecksumEntry struct {
	Name     string `json:"name"`
	Threads  int    `json:"threads"`
	WorkNS   int64  `json:"work_ns"`
	ArriveNS int64  `json:"arrival_ns"`
	Managed  bool   `json:"managed"`
	Allowed  string `json:"allowed"`
}

type workloadChecksumPayload struct {
	CPUs      int                     `json:"cpus"`
	OtherLoad int                     `json:"other_load"`
	Tasks     []workloadChecksumEntry `json:"tasks"`
}

// WorkloadChecksum returns a short, stable checksum of the simulated
// workload, independent of scheduler and meter settings: the first 6 hex
// characters of the MD5 of a canonical JSON form.
func WorkloadChecksum(cfg *Config) (string, error) {
	if cfg == nil {
		return "", nil
	}

	entries := make([]workloadChecksumEntry, 0, len(cfg.Simulation.Tasks))
	for name, t := range cfg.Simulation.Tasks {
		entries = append(entries, workloadChecksumEntry{
			Name:     name,
			Threads:  t.Threads,
			WorkNS:   int64(t.Work),
			ArriveNS: int64(t.Arrival),
			Managed:  t.Managed,
			Allowed:  t.AllowedCPUs.String(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	payload := workloadChecksumPayload{
		CPUs:      cfg.Simulation.CPUs,
		OtherLoad: cfg.Simulation.OtherLoad,
		Tasks:     entries,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(b)
	hexStr := hex.EncodeToString(sum[:])
	if len(hexStr) > 6 {
		hexStr = hexStr[:6]
	}
	return hexStr, nil
}
