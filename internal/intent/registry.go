// Package intent maps free-text transcripts to structured intents.
//
// Resolution runs in three stages: exact trigger match, phonetic match
// for a small set of critical commands, then semantic similarity against
// the known-intent library. Each stage has its own confidence floor.
package intent

import (
	"github.com/voxgate/voxgate/internal/model"
)

// Prefix binds a spoken prefix to a parameter name: "play artist bach"
// extracts {artist: "bach"} via the prefix "play artist ".
type Prefix struct {
	Text  string
	Param string
}

// Command describes one known intent: its triggers, parameter-extracting
// prefixes, risk tier, and exemplar phrases for semantic matching.
type Command struct {
	Name string
	Tier model.RiskTier
	// Triggers are full-utterance matches after normalization.
	Triggers []string
	// Prefixes extract a single parameter from the remainder of the utterance.
	Prefixes []Prefix
	// Params is the fixed key vocabulary for this intent name. Parameters
	// outside this set are never attached.
	Params []string
	// Critical commands participate in the phonetic fallback stage, which
	// tolerates ASR misrecognition of safety-relevant utterances.
	Critical bool
	// Exemplars seed the semantic matcher. Empty means exact/phonetic only.
	Exemplars []string
}

// Registry holds the known-command library. Built once at startup;
// the high-risk override set may be swapped by config reload through
// the pipeline goroutine.
type Registry struct {
	commands []Command
	highRisk map[string]bool
}

// NewRegistry builds a registry over the given commands.
func NewRegistry(commands []Command) *Registry {
	return &Registry{commands: commands, highRisk: map[string]bool{}}
}

// SetHighRisk replaces the config-driven high-risk name set. Names listed
// here are promoted to TierHighRisk regardless of their static tier.
func (r *Registry) SetHighRisk(names []string) {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	r.highRisk = m
}

// Commands returns the command library in registration order.
func (r *Registry) Commands() []Command {
	return r.commands
}

// TierFor returns the effective risk tier for an intent name.
func (r *Registry) TierFor(name string, static model.RiskTier) model.RiskTier {
	if r.highRisk[name] {
		return model.TierHighRisk
	}
	return static
}

// Builtin returns the default command library: media playback control,
// library queries, and the destructive game commands that require
// confirmation.
func Builtin() []Command {
	return []Command{
		{
			Name:     "media_pause",
			Tier:     model.TierSafe,
			Triggers: []string{"pause", "play pause"},
			Params:   []string{},
		},
		{
			Name:     "media_resume",
			Tier:     model.TierSafe,
			Triggers: []string{"play", "resume", "start music"},
			Params:   []string{},
		},
		{
			Name:     "media_stop",
			Tier:     model.TierSafe,
			Triggers: []string{"stop", "stop music"},
			Params:   []string{},
		},
		{
			Name:     "media_next",
			Tier:     model.TierSafe,
			Triggers: []string{"next", "skip", "next track", "next song"},
			Params:   []string{},
		},
		{
			Name:     "media_previous",
			Tier:     model.TierSafe,
			Triggers: []string{"previous", "back", "previous track", "previous song"},
			Params:   []string{},
		},
		{
			Name:     "volume_up",
			Tier:     model.TierSafe,
			Triggers: []string{"volume up", "louder"},
			Params:   []string{},
		},
		{
			Name:     "volume_down",
			Tier:     model.TierSafe,
			Triggers: []string{"volume down", "quieter"},
			Params:   []string{},
		},
		{
			Name:      "what_is_playing",
			Tier:      model.TierSafe,
			Triggers:  []string{"what is playing", "what's playing", "what song is this"},
			Params:    []string{},
			Exemplars: []string{"tell me what song this is", "what track is on right now"},
		},
		{
			Name:      "play_artist",
			Tier:      model.TierNormal,
			Prefixes:  []Prefix{{Text: "play artist ", Param: "artist"}},
			Params:    []string{"artist"},
			Exemplars: []string{"put on some music by an artist", "play songs from this band"},
		},
		{
			Name:      "play_album",
			Tier:      model.TierNormal,
			Prefixes:  []Prefix{{Text: "play album ", Param: "album"}},
			Params:    []string{"album"},
			Exemplars: []string{"play this record", "put on the album"},
		},
		{
			Name: "play_playlist",
			Tier: model.TierNormal,
			Prefixes: []Prefix{
				{Text: "play playlist ", Param: "playlist"},
				{Text: "play smartlist ", Param: "playlist"},
			},
			Params:    []string{"playlist"},
			Exemplars: []string{"start my playlist", "play the mix"},
		},
		{
			Name: "search_library",
			Tier: model.TierNormal,
			Prefixes: []Prefix{
				{Text: "search for ", Param: "query"},
				{Text: "find ", Param: "query"},
			},
			Params:    []string{"query"},
			Exemplars: []string{"look something up in my library", "search my music"},
		},
		{
			Name:     "play_random",
			Tier:     model.TierSafe,
			Triggers: []string{"play whatever", "whatever", "play random"},
			Params:   []string{},
		},
		{
			Name:     "list_commands",
			Tier:     model.TierSafe,
			Triggers: []string{"help", "list commands"},
			Params:   []string{},
		},
		{
			Name:     "lights_off",
			Tier:     model.TierSafe,
			Triggers: []string{"turn off the lights", "lights off"},
			Params:   []string{},
		},
		{
			Name:     "lights_on",
			Tier:     model.TierSafe,
			Triggers: []string{"turn on the lights", "lights on"},
			Params:   []string{},
		},

		// Destructive game commands. Confirmation-gated and eligible for
		// phonetic fallback: mishearing "self destruct" must not silently
		// drop the safety prompt, and mishearing "eject" must not fire it.
		{
			Name:     "self_destruct",
			Tier:     model.TierHighRisk,
			Triggers: []string{"self destruct", "self-destruct"},
			Params:   []string{},
			Critical: true,
		},
		{
			Name:     "eject",
			Tier:     model.TierHighRisk,
			Triggers: []string{"eject"},
			Params:   []string{},
			Critical: true,
		},
		{
			Name:     "abandon_ship",
			Tier:     model.TierHighRisk,
			Triggers: []string{"abandon ship"},
			Params:   []string{},
			Critical: true,
		},
		{
			Name:     "purge",
			Tier:     model.TierHighRisk,
			Triggers: []string{"purge"},
			Params:   []string{},
			Critical: true,
		},
	}
}
