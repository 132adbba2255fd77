package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GlobalOptions mirrors the global_options row for a single owner JID.
type GlobalOptions struct {
	Owner             string
	MaxHistoryLength  int
	RecordHistory     bool
	Persistent        bool
}

// ServerOptions mirrors one irc_server_options row.
type ServerOptions struct {
	ID                 int64
	Owner              string
	Server             string
	Pass               string
	Ports              string
	TLSPorts           string
	Username           string
	Realname           string
	VerifyCert         bool
	TrustedFingerprint string
	SASLPassword       string
	Nick               string
	EncodingIn         string
	EncodingOut        string
	MaxHistoryLength   int
	ThrottleLimit      int
}

// ChannelOptions mirrors one irc_channel_options row.
type ChannelOptions struct {
	ID                     int64
	Owner                  string
	Server                 string
	Channel                string
	EncodingIn             string
	EncodingOut            string
	MaxHistoryLength       int
	Persistent             bool
	RecordHistoryOptional  string
}

// GlobalOptionsFor returns the effective global options for owner, the
// library defaults if no row exists yet.
func (db *DB) GlobalOptionsFor(ctx context.Context, owner string) (GlobalOptions, error) {
	o := GlobalOptions{Owner: owner, MaxHistoryLength: 20, RecordHistory: true, Persistent: false}
	row := db.Pool.QueryRow(ctx, `SELECT max_history_length, record_history, persistent
		FROM global_options WHERE owner = $1`, owner)
	err := row.Scan(&o.MaxHistoryLength, &o.RecordHistory, &o.Persistent)
	if errors.Is(err, pgx.ErrNoRows) {
		return o, nil
	}
	if err != nil {
		return o, fmt.Errorf("fetching global options: %w", err)
	}
	return o, nil
}

// SetGlobalOption upserts a single global option value.
func (db *DB) SetGlobalOption(ctx context.Context, owner, column string, value any) error {
	if !isAllowedColumn(column, "max_history_length", "record_history", "persistent") {
		return fmt.Errorf("unknown global option %q", column)
	}
	query := fmt.Sprintf(`INSERT INTO global_options (owner, %s) VALUES ($1, $2)
		ON CONFLICT (owner) DO UPDATE SET %s = excluded.%s`, column, column, column)
	if _, err := db.Pool.Exec(ctx, query, owner, value); err != nil {
		return fmt.Errorf("setting global option %s: %w", column, err)
	}
	return nil
}

// ServerOptionsFor returns the stored per-server options, if any.
func (db *DB) ServerOptionsFor(ctx context.Context, owner, server string) (*ServerOptions, error) {
	o := &ServerOptions{Owner: owner, Server: server}
	row := db.Pool.QueryRow(ctx, `SELECT id, pass, ports, tls_ports, username, realname,
		verify_cert, trusted_fingerprint, sasl_password, nick, encoding_in, encoding_out,
		max_history_length, throttle_limit
		FROM irc_server_options WHERE owner = $1 AND server = $2`, owner, server)
	err := row.Scan(&o.ID, &o.Pass, &o.Ports, &o.TLSPorts, &o.Username, &o.Realname,
		&o.VerifyCert, &o.TrustedFingerprint, &o.SASLPassword, &o.Nick, &o.EncodingIn,
		&o.EncodingOut, &o.MaxHistoryLength, &o.ThrottleLimit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching server options: %w", err)
	}
	return o, nil
}

// SetServerOption upserts a single per-server option value.
func (db *DB) SetServerOption(ctx context.Context, owner, server, column string, value any) error {
	if !isAllowedColumn(column, "pass", "ports", "tls_ports", "username", "realname",
		"verify_cert", "trusted_fingerprint", "sasl_password", "nick", "encoding_in",
		"encoding_out", "max_history_length", "throttle_limit") {
		return fmt.Errorf("unknown server option %q", column)
	}
	query := fmt.Sprintf(`INSERT INTO irc_server_options (owner, server, %s) VALUES ($1, $2, $3)
		ON CONFLICT (owner, server) DO UPDATE SET %s = excluded.%s`, column, column, column)
	if _, err := db.Pool.Exec(ctx, query, owner, server, value); err != nil {
		return fmt.Errorf("setting server option %s: %w", column, err)
	}
	return nil
}

// ChannelOptionsFor returns the stored per-channel options, if any.
func (db *DB) ChannelOptionsFor(ctx context.Context, owner, server, channel string) (*ChannelOptions, error) {
	o := &ChannelOptions{Owner: owner, Server: server, Channel: channel}
	row := db.Pool.QueryRow(ctx, `SELECT id, encoding_in, encoding_out, max_history_length,
		persistent, record_history_optional
		FROM irc_channel_options WHERE owner = $1 AND server = $2 AND channel = $3`,
		owner, server, channel)
	err := row.Scan(&o.ID, &o.EncodingIn, &o.EncodingOut, &o.MaxHistoryLength,
		&o.Persistent, &o.RecordHistoryOptional)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching channel options: %w", err)
	}
	return o, nil
}

// SetChannelOption upserts a single per-channel option value.
func (db *DB) SetChannelOption(ctx context.Context, owner, server, channel, column string, value any) error {
	if !isAllowedColumn(column, "encoding_in", "encoding_out", "max_history_length",
		"persistent", "record_history_optional") {
		return fmt.Errorf("unknown channel option %q", column)
	}
	query := fmt.Sprintf(`INSERT INTO irc_channel_options (owner, server, channel, %s)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner, server, channel) DO UPDATE SET %s = excluded.%s`, column, column, column)
	if _, err := db.Pool.Exec(ctx, query, owner, server, channel, value); err != nil {
		return fmt.Errorf("setting channel option %s: %w", column, err)
	}
	return nil
}

// PersistentChannels returns every (server, channel) marked persistent for
// owner.
func (db *DB) PersistentChannels(ctx context.Context, owner string) ([]ChannelOptions, error) {
	rows, err := db.Pool.Query(ctx, `SELECT id, server, channel, encoding_in, encoding_out,
		max_history_length, persistent, record_history_optional
		FROM irc_channel_options WHERE owner = $1 AND persistent = TRUE`, owner)
	if err != nil {
		return nil, fmt.Errorf("fetching persistent channels: %w", err)
	}
	defer rows.Close()

	var out []ChannelOptions
	for rows.Next() {
		var o ChannelOptions
		o.Owner = owner
		if err := rows.Scan(&o.ID, &o.Server, &o.Channel, &o.EncodingIn, &o.EncodingOut,
			&o.MaxHistoryLength, &o.Persistent, &o.RecordHistoryOptional); err != nil {
			return nil, fmt.Errorf("scanning persistent channel row: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// AfterConnectionCommands returns the raw commands to replay once server_fk
// has completed registration.
func (db *DB) AfterConnectionCommands(ctx context.Context, serverFk int64) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `SELECT command FROM after_connection_commands
		WHERE server_fk = $1 ORDER BY id`, serverFk)
	if err != nil {
		return nil, fmt.Errorf("fetching after-connection commands: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var cmd string
		if err := rows.Scan(&cmd); err != nil {
			return nil, fmt.Errorf("scanning after-connection command: %w", err)
		}
		out = append(out, cmd)
	}
	return out, rows.Err()
}

// AddAfterConnectionCommand appends a command to replay on every future
// connection to serverFk.
func (db *DB) AddAfterConnectionCommand(ctx context.Context, serverFk int64, command string) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO after_connection_commands (server_fk, command) VALUES ($1, $2)`,
		serverFk, command)
	if err != nil {
		return fmt.Errorf("adding after-connection command: %w", err)
	}
	return nil
}

// RosterContains reports whether remoteJid appears on localJid's roster.
func (db *DB) RosterContains(ctx context.Context, localJid, remoteJid string) (bool, error) {
	var one int
	err := db.Pool.QueryRow(ctx,
		`SELECT 1 FROM roster WHERE local_jid = $1 AND remote_jid = $2`,
		localJid, remoteJid).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking roster: %w", err)
	}
	return true, nil
}

// AddRosterEntry records that remoteJid may receive presence from localJid.
func (db *DB) AddRosterEntry(ctx context.Context, localJid, remoteJid string) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO roster (local_jid, remote_jid) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		localJid, remoteJid)
	if err != nil {
		return fmt.Errorf("adding roster entry: %w", err)
	}
	return nil
}

func isAllowedColumn(column string, allowed ...string) bool {
	for _, a := range allowed {
		if column == a {
			return true
		}
	}
	return false
}
