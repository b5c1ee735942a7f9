package channel

import (
	"log"
	"strings"
	"sync"

	"github.com/hikarimc/lanternchat/pkg/chatlog"
	"github.com/hikarimc/lanternchat/pkg/config"
	"github.com/hikarimc/lanternchat/pkg/japanize"
	"github.com/hikarimc/lanternchat/pkg/member"
	"github.com/hikarimc/lanternchat/pkg/metrics"
)

// Presence reports the server's online population, used by broadcast
// channels whose membership is implicitly everyone online.
type Presence interface {
	OnlineMembers() []member.Member
	OnlineCount() int
}

// RelaySender forwards channel chat to same-named channels on other server
// processes. A nil sender disables relaying.
type RelaySender interface {
	SendChannelChat(channel, sender, message, lineFormat string)
}

// Recorder receives every dispatched line for scrollback retention.
type Recorder interface {
	Record(channel, speaker, message string)
}

// MemberFactory rebuilds a member value from a stored stable identifier.
type MemberFactory func(id string) member.Member

// Registry owns the live channel set and the persisted sub-stores:
// default channels, templates, the Japanize dictionary, per-member
// Japanize opt-in, and the hide-list. Every mutating operation persists
// its owning sub-store immediately.
type Registry struct {
	mu sync.RWMutex

	conf  *config.Config
	hooks *Hooks
	store *Store

	channels  map[string]*Channel // lowercase name -> channel
	defaults  map[string]string   // member ID -> channel name
	templates map[string]string
	dict      map[string]string
	japanize  map[string]bool     // member ID -> opt-in (absent = true)
	hidelist  map[string][]string // target ID -> observer IDs

	presence  Presence
	relay     RelaySender
	recorder  Recorder
	stats     *metrics.Metrics
	converter *japanize.Converter
	newMember MemberFactory
	prefixes  PrefixProvider

	logMu   sync.Mutex
	loggers map[string]*chatlog.Logger
}

// NewRegistry builds a registry over a data store and loads everything.
func NewRegistry(conf *config.Config, store *Store, factory MemberFactory) (*Registry, error) {
	r := &Registry{
		conf:      conf,
		hooks:     &Hooks{},
		store:     store,
		channels:  make(map[string]*Channel),
		newMember: factory,
		converter: japanize.NewConverter(conf.JapanizeTimeout),
		loggers:   make(map[string]*chatlog.Logger),
	}
	if err := r.ReloadAll(); err != nil {
		return nil, err
	}
	return r, nil
}

// Hooks returns the extension-point registration surface.
func (r *Registry) Hooks() *Hooks { return r.hooks }

// Config returns the active configuration.
func (r *Registry) Config() *config.Config { return r.conf }

// SetPresence wires the online-population provider.
func (r *Registry) SetPresence(p Presence) { r.presence = p }

// SetRelay wires the cross-process relay sender.
func (r *Registry) SetRelay(s RelaySender) { r.relay = s }

// SetRecorder wires the scrollback recorder.
func (r *Registry) SetRecorder(rec Recorder) { r.recorder = rec }

// SetMetrics wires the metrics collectors.
func (r *Registry) SetMetrics(m *metrics.Metrics) { r.stats = m }

// SetPrefixProvider wires the external %prefix/%suffix source.
func (r *Registry) SetPrefixProvider(p PrefixProvider) { r.prefixes = p }

// ReloadAll atomically swaps every sub-store's contents from disk.
func (r *Registry) ReloadAll() error {
	defaults, err := r.store.LoadStringMap(defaultsFile)
	if err != nil {
		log.Printf("registry: load defaults: %v", err)
	}
	templates, err := r.store.LoadStringMap(templatesFile)
	if err != nil {
		log.Printf("registry: load templates: %v", err)
	}
	dict, err := r.store.LoadStringMap(dictionaryFile)
	if err != nil {
		log.Printf("registry: load dictionary: %v", err)
	}
	jap, err := r.store.LoadBoolMap(japanizeFile)
	if err != nil {
		log.Printf("registry: load japanize opt-in: %v", err)
	}
	hide, err := r.store.LoadStringListMap(hidelistFile)
	if err != nil {
		log.Printf("registry: load hidelist: %v", err)
	}

	recs, err := r.store.LoadChannels()
	if err != nil {
		log.Printf("registry: load channels: %v", err)
	}
	channels := make(map[string]*Channel, len(recs))
	for _, rec := range recs {
		c := r.channelFromRecord(rec)
		channels[strings.ToLower(c.name)] = c
	}

	r.mu.Lock()
	r.defaults = defaults
	r.templates = templates
	r.dict = dict
	r.japanize = jap
	r.hidelist = hide
	r.channels = channels
	r.mu.Unlock()

	log.Printf("registry: loaded %d channels, %d defaults, %d dictionary entries",
		len(channels), len(defaults), len(dict))
	if r.stats != nil {
		r.stats.SetChannels(len(channels))
	}
	return nil
}

// CreateChannel creates and indexes a new channel. The creation hooks may
// rename it; a cancelling hook makes this return nil.
func (r *Registry) CreateChannel(name string, requester member.Member) *Channel {
	name, ok := r.hooks.fireCreate(name, requester)
	if !ok {
		return nil
	}

	c := newChannel(name, r)

	r.mu.Lock()
	r.channels[strings.ToLower(name)] = c
	n := len(r.channels)
	r.mu.Unlock()

	c.save()
	if r.stats != nil {
		r.stats.SetChannels(n)
	}
	return c
}

// GetOrCreatePersonal resolves the 1:1 channel from sender to recipient,
// creating it with both participants when absent. Personal channels bypass
// the creation hooks and are never persisted.
func (r *Registry) GetOrCreatePersonal(sender, recipient member.Member) *Channel {
	name := sender.Name() + ">" + recipient.Name()
	if c := r.GetChannel(name); c != nil {
		return c
	}
	c := newChannel(name, r)
	c.pmTarget = recipient.Name()
	r.mu.Lock()
	r.channels[strings.ToLower(name)] = c
	r.mu.Unlock()
	c.ForceJoin(sender)
	c.ForceJoin(recipient)
	return c
}

// RemoveChannel removes a channel after consulting the removal hooks. A
// configured disband message is sent to remaining members first. Returns
// whether the operation proceeded.
func (r *Registry) RemoveChannel(name string, requester member.Member) bool {
	if !r.hooks.fireRemove(name, requester) {
		return false
	}

	c := r.GetChannel(name)
	if c == nil {
		return true
	}

	if !c.IsPersonalChat() && r.conf.BreakupMessage != "" {
		msg := strings.NewReplacer(
			"%ch", c.Name(),
			"%color", c.ColorCode(),
		).Replace(r.conf.BreakupMessage)
		msg = ReplaceColorCode(r.conf.BreakupMessageColor + msg)
		for _, m := range c.Members() {
			m.SendMessage(msg)
		}
	}

	if !c.IsPersonalChat() {
		if err := r.store.DeleteChannel(c.Name()); err != nil {
			log.Printf("registry: %v", err)
		}
	}

	r.mu.Lock()
	delete(r.channels, strings.ToLower(c.Name()))
	n := len(r.channels)
	r.mu.Unlock()

	if r.stats != nil {
		r.stats.SetChannels(n)
	}
	return true
}

// GetChannel resolves a name or alias, case-insensitively. Exact name
// match wins over alias match.
func (r *Registry) GetChannel(nameOrAlias string) *Channel {
	if nameOrAlias == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.channels[strings.ToLower(nameOrAlias)]; ok {
		return c
	}
	for _, c := range r.channels {
		if c.alias != "" && strings.EqualFold(c.alias, nameOrAlias) {
			return c
		}
	}
	return nil
}

// Channels returns a snapshot of all live channels.
func (r *Registry) Channels() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, c)
	}
	return out
}

// ChannelsByMember returns every channel containing m, plus every global
// channel (implicit universal membership).
func (r *Registry) ChannelsByMember(m member.Member) []*Channel {
	var out []*Channel
	for _, c := range r.Channels() {
		if c.IsMember(m) || c.IsGlobal() {
			out = append(out, c)
		}
	}
	return out
}

// DefaultChannel returns the member's default channel, or nil when the
// pointer is unset or dangling.
func (r *Registry) DefaultChannel(m member.Member) *Channel {
	return r.GetChannel(r.DefaultChannelName(m))
}

// DefaultChannelName returns the raw default-channel pointer for a member.
func (r *Registry) DefaultChannelName(m member.Member) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults[m.ID()]
}

// SetDefaultChannel points a member's default at a channel and persists.
func (r *Registry) SetDefaultChannel(m member.Member, channelName string) {
	r.mu.Lock()
	r.defaults[m.ID()] = strings.ToLower(channelName)
	r.mu.Unlock()
	r.saveDefaults()
}

// RemoveDefaultChannel clears a member's default pointer and persists.
func (r *Registry) RemoveDefaultChannel(m member.Member) {
	r.mu.Lock()
	delete(r.defaults, m.ID())
	r.mu.Unlock()
	r.saveDefaults()
}

// Template returns a message-format template by id, or "".
func (r *Registry) Template(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates[id]
}

// SetTemplate stores a template and persists the template library.
func (r *Registry) SetTemplate(id, text string) {
	r.mu.Lock()
	r.templates[id] = text
	r.mu.Unlock()
	r.saveTemplates()
}

// RemoveTemplate deletes a template and persists.
func (r *Registry) RemoveTemplate(id string) {
	r.mu.Lock()
	delete(r.templates, id)
	r.mu.Unlock()
	r.saveTemplates()
}

// Dictionary returns a copy of the Japanize dictionary.
func (r *Registry) Dictionary() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.dict))
	for k, v := range r.dict {
		out[k] = v
	}
	return out
}

// SetDictionary adds or replaces a dictionary entry and persists.
func (r *Registry) SetDictionary(key, value string) {
	r.mu.Lock()
	r.dict[key] = value
	r.mu.Unlock()
	r.saveDictionary()
}

// RemoveDictionary deletes a dictionary entry and persists.
func (r *Registry) RemoveDictionary(key string) {
	r.mu.Lock()
	delete(r.dict, key)
	r.mu.Unlock()
	r.saveDictionary()
}

// IsMemberJapanize returns a member's Japanize opt-in; the default is on.
func (r *Registry) IsMemberJapanize(m member.Member) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.japanize[m.ID()]
	if !ok {
		return true
	}
	return v
}

// SetMemberJapanize records a member's Japanize opt-in and persists.
func (r *Registry) SetMemberJapanize(m member.Member, on bool) {
	r.mu.Lock()
	r.japanize[m.ID()] = on
	r.mu.Unlock()
	r.saveJapanize()
}

// AddHide records that observer hides target and persists the hide-list.
func (r *Registry) AddHide(observer, target member.Member) {
	tid := target.ID()
	r.mu.Lock()
	list := r.hidelist[tid]
	for _, id := range list {
		if id == observer.ID() {
			r.mu.Unlock()
			return
		}
	}
	r.hidelist[tid] = append(list, observer.ID())
	r.mu.Unlock()
	r.saveHidelist()
}

// RemoveHide clears observer's hide of target and persists.
func (r *Registry) RemoveHide(observer, target member.Member) {
	tid := target.ID()
	r.mu.Lock()
	list := r.hidelist[tid]
	changed := false
	for i, id := range list {
		if id == observer.ID() {
			list = append(list[:i], list[i+1:]...)
			changed = true
			break
		}
	}
	if !changed {
		r.mu.Unlock()
		return
	}
	if len(list) == 0 {
		delete(r.hidelist, tid)
	} else {
		r.hidelist[tid] = list
	}
	r.mu.Unlock()
	r.saveHidelist()
}

// ObserversHiding returns the members currently hiding target.
func (r *Registry) ObserversHiding(target member.Member) []member.Member {
	r.mu.RLock()
	ids := append([]string(nil), r.hidelist[target.ID()]...)
	r.mu.RUnlock()

	out := make([]member.Member, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.newMember(id))
	}
	return out
}

// TargetsHiddenBy returns the members that observer is hiding, the inverse
// query used by UI listing.
func (r *Registry) TargetsHiddenBy(observer member.Member) []member.Member {
	r.mu.RLock()
	var ids []string
	for target, observers := range r.hidelist {
		for _, id := range observers {
			if id == observer.ID() {
				ids = append(ids, target)
				break
			}
		}
	}
	r.mu.RUnlock()

	out := make([]member.Member, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.newMember(id))
	}
	return out
}

// LoggerFor returns the chat log stream for a channel, creating it lazily.
func (r *Registry) LoggerFor(stream string) *chatlog.Logger {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	if l, ok := r.loggers[stream]; ok {
		return l
	}
	l := chatlog.New(r.store.Dir(), stream)
	r.loggers[stream] = l
	return l
}

// saveChannel persists one channel record; transient failures are logged
// and the in-memory state stays authoritative.
func (r *Registry) saveChannel(c *Channel) {
	rec := r.recordFromChannel(c)
	if err := r.store.SaveChannel(rec); err != nil {
		log.Printf("registry: %v", err)
	}
}

func (r *Registry) saveDefaults() {
	r.mu.RLock()
	m := copyStringMap(r.defaults)
	r.mu.RUnlock()
	if err := r.store.SaveStringMap(defaultsFile, m); err != nil {
		log.Printf("registry: %v", err)
	}
}

func (r *Registry) saveTemplates() {
	r.mu.RLock()
	m := copyStringMap(r.templates)
	r.mu.RUnlock()
	if err := r.store.SaveStringMap(templatesFile, m); err != nil {
		log.Printf("registry: %v", err)
	}
}

func (r *Registry) saveDictionary() {
	r.mu.RLock()
	m := copyStringMap(r.dict)
	r.mu.RUnlock()
	if err := r.store.SaveStringMap(dictionaryFile, m); err != nil {
		log.Printf("registry: %v", err)
	}
}

func (r *Registry) saveJapanize() {
	r.mu.RLock()
	m := make(map[string]bool, len(r.japanize))
	for k, v := range r.japanize {
		m[k] = v
	}
	r.mu.RUnlock()
	if err := r.store.SaveBoolMap(japanizeFile, m); err != nil {
		log.Printf("registry: %v", err)
	}
}

func (r *Registry) saveHidelist() {
	r.mu.RLock()
	m := make(map[string][]string, len(r.hidelist))
	for k, v := range r.hidelist {
		m[k] = append([]string(nil), v...)
	}
	r.mu.RUnlock()
	if err := r.store.SaveStringListMap(hidelistFile, m); err != nil {
		log.Printf("registry: %v", err)
	}
}

// channelFromRecord rebuilds a live channel from its persisted record.
func (r *Registry) channelFromRecord(rec *record) *Channel {
	c := newChannel(rec.Name, r)
	c.alias = rec.Alias
	c.description = rec.Description
	if rec.Format != "" {
		c.format = rec.Format
	}
	c.password = rec.Password
	c.visible = rec.Visible
	c.relay = rec.Bungee
	c.colorCode = rec.Color
	c.broadcast = rec.Broadcast
	c.worldRange = rec.World
	c.chatRange = rec.Range
	c.allowCC = rec.AllowCC
	if rec.Japanize != "" {
		t := japanize.TypeByID(rec.Japanize, japanize.None)
		c.japanize = &t
	}
	c.members = r.membersFromIDs(rec.Members)
	c.banned = r.membersFromIDs(rec.Banned)
	c.muted = r.membersFromIDs(rec.Muted)
	c.hidden = r.membersFromIDs(rec.Hided)
	c.moderators = r.membersFromIDs(rec.Moderator)
	if rec.BanExpires != nil {
		c.banExpires = rec.BanExpires
	}
	if rec.MuteExpires != nil {
		c.muteExpires = rec.MuteExpires
	}
	return c
}

// recordFromChannel captures a channel's persisted form.
func (r *Registry) recordFromChannel(c *Channel) *record {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := &record{
		Name:        c.name,
		Alias:       c.alias,
		Description: c.description,
		Format:      c.format,
		Members:     idsFromMembers(c.members),
		Banned:      idsFromMembers(c.banned),
		Muted:       idsFromMembers(c.muted),
		Hided:       idsFromMembers(c.hidden),
		Moderator:   idsFromMembers(c.moderators),
		Password:    c.password,
		Visible:     c.visible,
		Bungee:      c.relay,
		Color:       c.colorCode,
		Broadcast:   c.broadcast,
		World:       c.worldRange,
		Range:       c.chatRange,
		AllowCC:     c.allowCC,
	}
	if len(c.banExpires) > 0 {
		rec.BanExpires = copyInt64Map(c.banExpires)
	}
	if len(c.muteExpires) > 0 {
		rec.MuteExpires = copyInt64Map(c.muteExpires)
	}
	if c.japanize != nil {
		rec.Japanize = c.japanize.ID()
	}
	return rec
}

func (r *Registry) membersFromIDs(ids []string) []member.Member {
	out := make([]member.Member, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.newMember(id))
	}
	return out
}

func idsFromMembers(list []member.Member) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.ID()
	}
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyInt64Map(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
