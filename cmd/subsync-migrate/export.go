package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/goliatone/go-subsync/core"
)

const systemScopeID = "totals"

// exportFile is the YAML document produced by a panel export.
type exportFile struct {
	BatchID    string          `yaml:"batch_id"`
	Source     string          `yaml:"source"`
	ExportedAt time.Time       `yaml:"exported_at"`
	Accounts   []exportAccount `yaml:"accounts"`
	NodeUsages []exportUsage   `yaml:"node_usages"`
	System     *exportSystem   `yaml:"system"`
}

type exportAccount struct {
	Username   string        `yaml:"username"`
	NodeUsages []exportUsage `yaml:"node_usages"`
}

type exportUsage struct {
	ID          string    `yaml:"id"`
	NodeID      string    `yaml:"node_id"`
	CreatedAt   time.Time `yaml:"created_at"`
	Uplink      int64     `yaml:"uplink"`
	Downlink    int64     `yaml:"downlink"`
	UsedTraffic int64     `yaml:"used_traffic"`
}

type exportSystem struct {
	Uplink   int64 `yaml:"uplink"`
	Downlink int64 `yaml:"downlink"`
}

// exportContents is an export split into the account batch and the usage
// that belongs to no account.
type exportContents struct {
	Batch  core.MigrationBatch
	Shared []core.UsageRecord
}

func readExport(path string, now time.Time) (exportContents, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return exportContents{}, fmt.Errorf("read export %q: %w", path, err)
	}
	return parseExport(data, now)
}

func parseExport(data []byte, now time.Time) (exportContents, error) {
	var file exportFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return exportContents{}, fmt.Errorf("invalid export: %w", err)
	}

	batchID := strings.TrimSpace(file.BatchID)
	if batchID == "" {
		batchID = "export-" + strconv.FormatInt(now.Unix(), 10)
	}
	contents := exportContents{
		Batch: core.MigrationBatch{
			ID:     batchID,
			Source: strings.TrimSpace(file.Source),
		},
	}

	for i, account := range file.Accounts {
		username := strings.TrimSpace(account.Username)
		if username == "" {
			return exportContents{}, fmt.Errorf("invalid export: accounts[%d] has no username", i)
		}
		source := core.SourceAccount{ExternalIdentity: username}
		for j, usage := range account.NodeUsages {
			if usage.CreatedAt.IsZero() {
				return exportContents{}, fmt.Errorf("invalid export: accounts[%d].node_usages[%d] has no created_at", i, j)
			}
			source.Usage = append(source.Usage, core.UsageRecord{
				Key: core.UsageKey{
					Bucket: usage.CreatedAt,
					Scope:  core.UsageScope{Type: string(core.UsageScopeUserNode), ID: nodeID(usage.NodeID)},
				},
				Counters: usage.counters(),
				SourceID: sourceID(batchID, "user", username, j, usage.ID),
			})
		}
		contents.Batch.Accounts = append(contents.Batch.Accounts, source)
	}

	for i, usage := range file.NodeUsages {
		if usage.CreatedAt.IsZero() {
			return exportContents{}, fmt.Errorf("invalid export: node_usages[%d] has no created_at", i)
		}
		contents.Shared = append(contents.Shared, core.UsageRecord{
			Key: core.UsageKey{
				Bucket: usage.CreatedAt,
				Scope:  core.UsageScope{Type: string(core.UsageScopeNode), ID: nodeID(usage.NodeID)},
			},
			Counters: usage.counters(),
			SourceID: sourceID(batchID, "node", "", i, usage.ID),
		})
	}

	if file.System != nil {
		at := file.ExportedAt
		if at.IsZero() {
			at = now
		}
		contents.Shared = append(contents.Shared, core.UsageRecord{
			Key: core.UsageKey{
				Bucket: at,
				Scope:  core.UsageScope{Type: string(core.UsageScopeSystem), ID: systemScopeID},
			},
			Counters: core.UsageCounters{
				Uplink:   file.System.Uplink,
				Downlink: file.System.Downlink,
			},
			SourceID: batchID + ":system",
		})
	}
	return contents, nil
}

func (u exportUsage) counters() core.UsageCounters {
	return core.UsageCounters{
		Uplink:      u.Uplink,
		Downlink:    u.Downlink,
		UsedTraffic: u.UsedTraffic,
	}
}

// nodeID maps the core node, which exports carry without an id, to "0".
func nodeID(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "0"
	}
	return value
}

func sourceID(batchID, kind, owner string, index int, id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		id = "#" + strconv.Itoa(index)
	}
	parts := []string{batchID, kind}
	if owner != "" {
		parts = append(parts, owner)
	}
	return strings.Join(append(parts, id), ":")
}
