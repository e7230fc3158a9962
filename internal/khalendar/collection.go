// ABOUTME: Collection pipeline: raw event text -> group -> expand -> occurrence cache.
// ABOUTME: Serial per mutation; a malformed event skips its UID, never the whole load.

package khalendar

import (
	"fmt"
	"log"
	"time"

	"github.com/pimutils/khal/internal/config"
	"github.com/pimutils/khal/internal/diag"
	"github.com/pimutils/khal/internal/event"
	"github.com/pimutils/khal/internal/expand"
	"github.com/pimutils/khal/internal/ical"
	"github.com/pimutils/khal/internal/store"
	"github.com/pimutils/khal/internal/timeres"
	"github.com/pimutils/khal/internal/vdir"
)

// expansionFloor bounds materialization from below; events before it are of
// no practical interest to a calendar view.
var expansionFloor = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Collection wires the parse/group/expand pipeline to the occurrence cache
// for the configured calendar collections.
type Collection struct {
	Store *store.Store
	Diags *diag.Collector

	resolver *timeres.Resolver
	opts     expand.Options
}

// New builds a Collection from resolved configuration.
func New(st *store.Store, cfg *config.Config, diags *diag.Collector) (*Collection, error) {
	defaultZone, err := cfg.DefaultZone()
	if err != nil {
		return nil, fmt.Errorf("default timezone: %w", err)
	}
	horizon, err := cfg.HorizonTime()
	if err != nil {
		return nil, fmt.Errorf("horizon: %w", err)
	}
	dur, err := cfg.EventDuration()
	if err != nil {
		return nil, fmt.Errorf("default duration: %w", err)
	}

	return &Collection{
		Store:    st,
		Diags:    diags,
		resolver: timeres.NewResolver(defaultZone),
		opts: expand.Options{
			Horizon:         horizon,
			DefaultZone:     defaultZone,
			DefaultDuration: dur,
		},
	}, nil
}

// Options exposes the expansion options derived from configuration.
func (c *Collection) Options() expand.Options {
	return c.opts
}

// Update ingests one raw iCalendar payload into a calendar: every UID group
// in the text is expanded up to the horizon and atomically replaces its
// previous occurrence set. An update supersedes the UID wholesale; nothing
// is patched in place.
func (c *Collection) Update(calendar, filename, etag, raw string) error {
	groups, err := ical.ParseGroups(raw, c.resolver, c.Diags)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", calendar, filename, err)
	}

	w := expand.Window{From: expansionFloor, To: c.opts.Horizon}
	for _, g := range groups {
		occs := expand.Expand(g, w, c.opts, c.Diags)
		if err := c.Store.Replace(calendar, g.UID, filename, etag, raw, g, occs); err != nil {
			return fmt.Errorf("replace %s/%s: %w", calendar, g.UID, err)
		}
	}
	return nil
}

// Delete removes one UID from a calendar.
func (c *Collection) Delete(calendar, uid string) error {
	return c.Store.DeleteByUID(calendar, uid)
}

// LoadDir syncs one calendar collection from its vdir directory. Files whose
// content hash is unchanged are skipped; files that disappeared have their
// events dropped.
func (c *Collection) LoadDir(cal config.CalendarConfig) error {
	files, err := vdir.ReadDir(cal.Path)
	if err != nil {
		return fmt.Errorf("read collection %s: %w", cal.Name, err)
	}

	if err := c.Store.UpsertCalendar(store.Calendar{Name: cal.Name, Color: cal.Color, Readonly: cal.Readonly}); err != nil {
		return err
	}

	seen := make(map[string]bool, len(files))
	var loaded, skipped int
	for _, f := range files {
		seen[f.Name] = true
		prev, err := c.Store.EtagByFilename(cal.Name, f.Name)
		if err != nil {
			return err
		}
		if prev == f.Etag {
			skipped++
			continue
		}
		if prev != "" {
			// The file changed: drop every UID it previously contributed
			// before re-ingesting, in case a UID vanished from the file.
			if err := c.dropFile(cal.Name, f.Name); err != nil {
				return err
			}
		}
		if err := c.Update(cal.Name, f.Name, f.Etag, f.Raw); err != nil {
			return err
		}
		loaded++
	}

	stale, err := c.Store.Filenames(cal.Name)
	if err != nil {
		return err
	}
	for _, name := range stale {
		if seen[name] {
			continue
		}
		if err := c.dropFile(cal.Name, name); err != nil {
			return err
		}
	}

	log.Printf("calendar %s: %d files loaded, %d unchanged", cal.Name, loaded, skipped)
	return nil
}

func (c *Collection) dropFile(calendar, filename string) error {
	uids, err := c.Store.UIDsByFilename(calendar, filename)
	if err != nil {
		return err
	}
	for _, uid := range uids {
		if err := c.Store.DeleteByUID(calendar, uid); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild wipes a calendar's cached state and reloads it from source. The
// cache is derived: rebuilding is always safe and is the standard answer to
// a corrupt or outdated database.
func (c *Collection) Rebuild(cal config.CalendarConfig) error {
	if err := c.Store.WipeCalendar(cal.Name); err != nil {
		return err
	}
	return c.LoadDir(cal)
}

// Serialize renders the stored UID group back to iCalendar text, proto plus
// overrides with RECURRENCE-ID and RANGE intact.
func (c *Collection) Serialize(calendar, uid string) (string, error) {
	raw, ok, err := c.Store.GetRaw(calendar, uid)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no event %s in calendar %s", uid, calendar)
	}
	groups, err := ical.ParseGroups(raw.Item, c.resolver, c.Diags)
	if err != nil {
		return "", err
	}
	for _, g := range groups {
		if g.UID == uid {
			return ical.SerializeGroup(g)
		}
	}
	return "", fmt.Errorf("stored item for %s does not contain its UID", uid)
}

// Group re-parses the stored item of one UID into its logical group.
func (c *Collection) Group(calendar, uid string) (event.Group, error) {
	raw, ok, err := c.Store.GetRaw(calendar, uid)
	if err != nil {
		return event.Group{}, err
	}
	if !ok {
		return event.Group{}, fmt.Errorf("no event %s in calendar %s", uid, calendar)
	}
	groups, err := ical.ParseGroups(raw.Item, c.resolver, c.Diags)
	if err != nil {
		return event.Group{}, err
	}
	for _, g := range groups {
		if g.UID == uid {
			return g, nil
		}
	}
	return event.Group{}, fmt.Errorf("stored item for %s does not contain its UID", uid)
}
