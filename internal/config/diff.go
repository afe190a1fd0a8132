package config

import (
	"reflect"
	"sort"
	"strings"

	logx "chrond/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for the reload log. Env values and webhook URLs are never
// included; both may embed secrets.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	added, removed, updated := diffTasks(oldCfg.Tasks, newCfg.Tasks)
	if len(added)+len(removed)+len(updated) > 0 {
		changed = append(changed, "tasks")
		attrs = append(attrs, logx.Int("tasks.count", len(newCfg.Tasks)))
		if len(added) > 0 {
			attrs = append(attrs, logx.Strings("tasks.added", added))
		}
		if len(removed) > 0 {
			attrs = append(attrs, logx.Strings("tasks.removed", removed))
		}
		if len(updated) > 0 {
			attrs = append(attrs, logx.Strings("tasks.updated", updated))
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.ConsoleEnabled()),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Journal, newCfg.Journal) {
		changed = append(changed, "journal")
		driver := "none"
		if newCfg.Journal != nil && strings.TrimSpace(newCfg.Journal.Driver) != "" {
			driver = newCfg.Journal.Driver
		}
		attrs = append(attrs, logx.String("journal.driver", driver))
	}

	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		set := newCfg.Notify != nil && strings.TrimSpace(newCfg.Notify.WebhookURL) != ""
		attrs = append(attrs, logx.Bool("notify.webhook_set", set))
	}

	return changed, attrs
}

// diffTasks compares task sets by name. Names may legally repeat, so each
// name maps to its ordered occurrences; a name whose occurrence count or
// content changed counts as updated.
func diffTasks(oldTasks, newTasks []Task) (added, removed, updated []string) {
	oldByName := tasksByName(oldTasks)
	newByName := tasksByName(newTasks)

	for name, nts := range newByName {
		ots, ok := oldByName[name]
		if !ok {
			added = append(added, name)
			continue
		}
		if !taskGroupEqual(ots, nts) {
			updated = append(updated, name)
		}
	}
	for name := range oldByName {
		if _, ok := newByName[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(updated)
	return added, removed, updated
}

func tasksByName(tasks []Task) map[string][]Task {
	m := make(map[string][]Task, len(tasks))
	for _, t := range tasks {
		m[t.Name] = append(m[t.Name], t)
	}
	return m
}

func taskGroupEqual(a, b []Task) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !taskEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// taskEqual compares by schedule text rather than the compiled form.
func taskEqual(a, b Task) bool {
	if a.Schedule.String() != b.Schedule.String() ||
		a.Command != b.Command ||
		a.Timeout != b.Timeout ||
		a.Workdir != b.Workdir {
		return false
	}
	if !reflect.DeepEqual(a.Args, b.Args) || !reflect.DeepEqual(a.Env, b.Env) {
		return false
	}
	var aw, bw string
	if a.OnFailure != nil {
		aw = a.OnFailure.WebhookURL
	}
	if b.OnFailure != nil {
		bw = b.OnFailure.WebhookURL
	}
	return aw == bw
}
