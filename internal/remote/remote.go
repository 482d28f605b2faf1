// Package remote reads files from a remote host over SSH/SFTP. Every Dial
// opens a fresh SSH connection; nothing is pooled or retried.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/johann/assetview/internal/logging"
)

var (
	// ErrConnect means the TCP connection or the SSH handshake failed.
	ErrConnect = errors.New("ssh connection failed")
	// ErrSubsystem means the SFTP subsystem could not be started.
	ErrSubsystem = errors.New("sftp connection failed")
	// ErrNotFound means the remote path could not be stat'ed.
	ErrNotFound = errors.New("file not found")
	// ErrNotFile means the remote path exists but is not a regular file.
	ErrNotFile = errors.New("path is not a file")
	// ErrTooLarge means a bounded read exceeded its limit.
	ErrTooLarge = errors.New("file too large")
)

// Config describes how to reach and authenticate against the remote host.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	KeyPath        string
	KeyPassphrase  string
	KnownHostsPath string
	DialTimeout    time.Duration
}

// Fetcher opens SFTP sessions against one remote host.
type Fetcher struct {
	addr      string
	sshConfig *ssh.ClientConfig
	timeout   time.Duration
	log       *zap.Logger
}

// New validates cfg and prepares the SSH client configuration.
func New(cfg Config, log *zap.Logger) (*Fetcher, error) {
	log = logging.OrNop(log).Named("remote")

	if cfg.Host == "" {
		return nil, errors.New("remote host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}

	var auth []ssh.AuthMethod
	if cfg.KeyPath != "" {
		signer, err := loadSigner(cfg.KeyPath, cfg.KeyPassphrase)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh auth method configured: set a password or a private key")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKey = cb
	} else {
		log.Warn("ssh host key verification disabled, set ssh_known_hosts to enable it",
			zap.String("host", cfg.Host))
	}

	return &Fetcher{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		sshConfig: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            auth,
			HostKeyCallback: hostKey,
			Timeout:         cfg.DialTimeout,
		},
		timeout: cfg.DialTimeout,
		log:     log,
	}, nil
}

func loadSigner(keyPath, passphrase string) (ssh.Signer, error) {
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", keyPath, err)
	}
	return signer, nil
}

// Addr returns the host:port the fetcher dials.
func (f *Fetcher) Addr() string {
	return f.addr
}

// Session is one SSH connection and the SFTP subsystem running over it.
type Session struct {
	conn *ssh.Client
	sftp *sftp.Client
}

// Dial connects, authenticates and starts the SFTP subsystem. The dial timeout
// and ctx both bound the whole setup, up to the SFTP version exchange.
func (f *Fetcher) Dial(ctx context.Context) (*Session, error) {
	d := net.Dialer{Timeout: f.timeout}
	nc, err := d.DialContext(ctx, "tcp", f.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	stop := context.AfterFunc(ctx, func() { nc.Close() })
	_ = nc.SetDeadline(time.Now().Add(f.timeout))

	c, chans, reqs, err := ssh.NewClientConn(nc, f.addr, f.sshConfig)
	if err != nil {
		stop()
		nc.Close()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	conn := ssh.NewClient(c, chans, reqs)
	client, err := sftp.NewClient(conn)
	if !stop() {
		// ctx ended while the subsystem was starting; nc is already closed.
		if err == nil {
			client.Close()
		}
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrSubsystem, ctx.Err())
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrSubsystem, err)
	}
	_ = nc.SetDeadline(time.Time{})

	f.log.Debug("sftp session opened", zap.String("addr", f.addr))
	return &Session{conn: conn, sftp: client}, nil
}

// Close ends the SFTP subsystem and the SSH connection.
func (s *Session) Close() error {
	return errors.Join(ignoreClosed(s.sftp.Close()), ignoreClosed(s.conn.Close()))
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Stat returns the file info of p, following symlinks.
func (s *Session) Stat(p string) (os.FileInfo, error) {
	info, err := s.sftp.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, p, err)
	}
	return info, nil
}

// Open stats p, checks that it is a regular file and opens it for reading.
func (s *Session) Open(p string) (*File, error) {
	info, err := s.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotFile, p)
	}
	f, err := s.sftp.Open(p)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrNotFound, p, err)
	}
	return &File{File: f, info: info}, nil
}

// ReadFile reads all of p. Files larger than limit bytes are rejected with ErrTooLarge.
func (s *Session) ReadFile(p string, limit int64) ([]byte, error) {
	f, err := s.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if f.info.Size() > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, p, f.info.Size(), limit)
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s grew past %d bytes", ErrTooLarge, p, limit)
	}
	return data, nil
}

// Entry is one item of a remote directory listing.
type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Dir     bool      `json:"dir"`
}

// List returns the entries of dir, directories first, then by name.
func (s *Session) List(dir string) ([]Entry, error) {
	infos, err := s.sftp.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, dir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, Entry{
			Name:    fi.Name(),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
			Dir:     fi.IsDir(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Dir != entries[j].Dir {
			return entries[i].Dir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Glob returns the remote paths matching pattern, sorted.
func (s *Session) Glob(pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	matches, err := s.sftp.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// File is an open remote file. When it was obtained from Fetcher.Open,
// closing it also closes its session.
type File struct {
	*sftp.File
	info    os.FileInfo
	session *Session
}

// Info returns the stat result taken before the file was opened.
func (f *File) Info() os.FileInfo {
	return f.info
}

// Close closes the file and, if it owns one, its session.
func (f *File) Close() error {
	err := f.File.Close()
	if f.session != nil {
		err = errors.Join(err, f.session.Close())
	}
	return err
}

// Open dials a new session and opens p in it. The session lives as long as the file.
func (f *Fetcher) Open(ctx context.Context, p string) (*File, error) {
	s, err := f.Dial(ctx)
	if err != nil {
		return nil, err
	}
	file, err := s.Open(p)
	if err != nil {
		s.Close()
		return nil, err
	}
	file.session = s
	return file, nil
}

// ReadFile dials a session, reads p bounded by limit, and closes the session.
func (f *Fetcher) ReadFile(ctx context.Context, p string, limit int64) ([]byte, error) {
	s, err := f.Dial(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.ReadFile(p, limit)
}

// List dials a session, lists dir, and closes the session.
func (f *Fetcher) List(ctx context.Context, dir string) ([]Entry, error) {
	s, err := f.Dial(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.List(dir)
}

// Glob dials a session, expands pattern, and closes the session.
func (f *Fetcher) Glob(ctx context.Context, pattern string) ([]string, error) {
	s, err := f.Dial(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Glob(pattern)
}
