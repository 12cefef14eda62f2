package replica

import (
	"context"
	"time"

	"github.com/iliyamo/brick-focus/internal/model"
	"github.com/iliyamo/brick-focus/internal/utils"
)

// GetSites returns the visible site list ordered by creation.
func (r *Replica) GetSites() []model.BlockedSite {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedSites(r.siteView)
}

// SiteState returns the write state of one site.
func (r *Replica) SiteState(domain string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.siteStates[domain]
}

// ApplySiteSnapshot replaces the confirmed list.  Sites with a write in
// flight keep their optimistic form.  Listeners fire only when the visible
// list changed, so a snapshot may be applied as often as it is read.
func (r *Replica) ApplySiteSnapshot(list []model.BlockedSite) {
	r.mu.Lock()
	confirmed := make(map[string]model.BlockedSite, len(list))
	for _, s := range list {
		if s.AccountID != "" && s.AccountID != r.accountID {
			continue
		}
		confirmed[s.Domain] = s
	}
	r.sites = confirmed
	prev := r.siteView
	r.rebuildSitesLocked()
	changed := !sameSites(prev, r.siteView)
	r.mu.Unlock()
	if changed {
		r.fireSites()
	}
}

func sameSites(a, b map[string]model.BlockedSite) bool {
	if len(a) != len(b) {
		return false
	}
	for d, s := range a {
		o, ok := b[d]
		if !ok || o.Icon != s.Icon || !o.CreatedAt.Equal(s.CreatedAt) {
			return false
		}
	}
	return true
}

// ApplySiteChange applies one pushed row.
func (r *Replica) ApplySiteChange(event string, s model.BlockedSite) {
	r.mu.Lock()
	if s.AccountID != "" && s.AccountID != r.accountID {
		r.mu.Unlock()
		return
	}
	switch event {
	case model.EventDelete:
		delete(r.sites, s.Domain)
	default:
		r.sites[s.Domain] = s
	}
	r.rebuildSitesLocked()
	r.mu.Unlock()
	r.fireSites()
}

func (r *Replica) rebuildSitesLocked() {
	view := make(map[string]model.BlockedSite, len(r.sites))
	for d, s := range r.sites {
		view[d] = s
	}
	for d, st := range r.siteStates {
		if st != Pending {
			continue
		}
		if opt, ok := r.siteView[d]; ok {
			view[d] = opt
		} else {
			delete(view, d)
		}
	}
	r.siteView = view
}

func (r *Replica) fireSites() {
	r.mu.Lock()
	fn := r.ls.Sites
	list := sortedSites(r.siteView)
	r.mu.Unlock()
	if fn != nil {
		fn(list)
	}
}

// AddSite normalises domain, shows it at once stamped now and writes it
// through.  On failure the optimistic row is removed and the error returned.
func (r *Replica) AddSite(ctx context.Context, domain, icon string, now time.Time) (model.BlockedSite, error) {
	d, err := utils.NormalizeDomain(domain)
	if err != nil {
		return model.BlockedSite{}, err
	}
	if icon == "" {
		icon = model.DefaultSiteIcon
	}
	r.mu.Lock()
	r.siteView[d] = model.BlockedSite{AccountID: r.accountID, Domain: d, Icon: icon, CreatedAt: now.UTC()}
	r.siteStates[d] = Pending
	r.mu.Unlock()
	r.fireSites()

	s, err := r.remote.AddSite(ctx, d, icon)

	r.mu.Lock()
	if err != nil {
		r.siteStates[d] = RolledBack
	} else {
		r.siteStates[d] = Confirmed
		r.sites[d] = s
	}
	r.rebuildSitesLocked()
	r.mu.Unlock()
	r.fireSites()
	return s, err
}

// RemoveSite hides the site at once and deletes it remotely; on failure
// it reappears.
func (r *Replica) RemoveSite(ctx context.Context, domain string) error {
	d, err := utils.NormalizeDomain(domain)
	if err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.siteView, d)
	r.siteStates[d] = Pending
	r.mu.Unlock()
	r.fireSites()

	err = r.remote.RemoveSite(ctx, d)

	r.mu.Lock()
	if err != nil {
		r.siteStates[d] = RolledBack
	} else {
		r.siteStates[d] = Confirmed
		delete(r.sites, d)
	}
	r.rebuildSitesLocked()
	r.mu.Unlock()
	r.fireSites()
	return err
}
