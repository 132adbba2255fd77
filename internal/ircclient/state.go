package ircclient

import "time"

// User is one IRC participant as tracked in a Channel's roster.
type User struct {
	Nick  string
	Host  string
	Modes map[byte]bool // per-channel mode letters currently set
}

// Channel mirrors the §3 IrcChannel record. Names are stored casefolded;
// DisplayName preserves the server's original casing for outbound text.
type Channel struct {
	Name        string // casefolded
	DisplayName string
	Joined      bool
	Parting     bool
	Topic       string
	TopicAuthor string
	SelfNick    string
	Users       map[string]*User // keyed by casefolded nick
}

func newChannel(name string) *Channel {
	return &Channel{Name: CaseFold(name), DisplayName: name, Users: make(map[string]*User)}
}

// PendingJoin is a queued JOIN waiting on registration to complete.
type PendingJoin struct {
	Name     string
	Password string
}

// ServerState mirrors §3's IrcServerState: everything tracked for one
// Bridge × IRC-server pair.
type ServerState struct {
	Hostname string
	Nick     string
	Welcomed bool

	Chantypes map[byte]bool

	ChanModes       ChanModes
	PrefixToMode    map[byte]byte
	ModeToPrefix    map[byte]byte
	SortedUserModes []byte

	Channels map[string]*Channel // casefold(name) -> channel

	PendingJoins  []PendingJoin
	PrivatePeers  map[string]bool

	LocalPort  int
	RemotePort int
	ConnectTime time.Time
}

func newServerState(hostname string) *ServerState {
	return &ServerState{
		Hostname:     hostname,
		Chantypes:    map[byte]bool{'#': true, '&': true},
		Channels:     make(map[string]*Channel),
		PrivatePeers: make(map[string]bool),
	}
}

func (s *ServerState) channel(name string) (*Channel, bool) {
	c, ok := s.Channels[CaseFold(name)]
	return c, ok
}

func (s *ServerState) ensureChannel(name string) *Channel {
	key := CaseFold(name)
	c, ok := s.Channels[key]
	if !ok {
		c = newChannel(name)
		s.Channels[key] = c
	}
	return c
}

// CaseFold implements RFC 1459 casemapping (the common default): ASCII
// lowercasing plus {}|  mapping to []\.
func CaseFold(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'A' && c <= 'Z':
			b[i] = c + 32
		case c == '{':
			b[i] = '['
		case c == '}':
			b[i] = ']'
		case c == '|':
			b[i] = '\\'
		}
	}
	return string(b)
}
