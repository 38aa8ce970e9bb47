// Package scp implements the SCP transport: a bare golang.org/x/crypto/ssh
// session driving the remote "scp -t" sink protocol directly, without the
// SFTP subsystem. No optional capabilities: SCP has no machine-readable
// diff and no directory listing short of parsing "ls" output, which this
// transport deliberately does not attempt.
package scp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/ryanoboyle/wharf/internal/apperr"
	"github.com/ryanoboyle/wharf/internal/model"
	"github.com/ryanoboyle/wharf/internal/uploader"
)

// Uploader drives one SSH connection running "scp -t <dest>" per file.
type Uploader struct {
	target model.ResolvedTarget

	client *ssh.Client
}

// New builds an unconnected SCP Uploader for target.
func New(target model.ResolvedTarget) *Uploader {
	return &Uploader{target: target}
}

// Factory adapts New to uploader.Factory.
func Factory(target model.ResolvedTarget) (uploader.Uploader, error) {
	return New(target), nil
}

func (u *Uploader) Connect(ctx context.Context) error {
	auth, err := authMethod(u.target)
	if err != nil {
		return apperr.New(apperr.ErrConnection, err, "invalid credentials")
	}

	port := u.target.Port
	if port == 0 {
		port = 22
	}

	cfg := &ssh.ClientConfig{
		User:            u.target.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         u.target.Timeout,
	}

	addr := net.JoinHostPort(u.target.Host, fmt.Sprintf("%d", port))
	dialer := net.Dialer{Timeout: u.target.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return apperr.New(apperr.ErrConnection, err, "cannot reach host")
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return apperr.New(apperr.ErrConnection, err, "ssh handshake failed")
	}
	u.client = ssh.NewClient(sshConn, chans, reqs)
	return nil
}

func (u *Uploader) Disconnect() {
	if u.client != nil {
		u.client.Close()
	}
}

// ReadFile has no cheap equivalent over plain SCP without a remote "cat"
// round trip; it runs one, tolerating a nonzero exit as "does not exist".
func (u *Uploader) ReadFile(ctx context.Context, relativePath string) ([]byte, int64, bool, error) {
	session, err := u.client.NewSession()
	if err != nil {
		return nil, 0, false, apperr.New(apperr.ErrRemote, err, "cannot open ssh session")
	}
	defer session.Close()

	remote := remotePath(u.target.RawDest, relativePath)
	var stdout strings.Builder
	session.Stdout = &stdout

	if err := session.Run(fmt.Sprintf("cat %s", shellQuote(remote))); err != nil {
		return nil, 0, false, nil
	}
	data := []byte(stdout.String())
	return data, int64(len(data)), true, nil
}

func (u *Uploader) TransferFile(ctx context.Context, f model.UploadFile) error {
	if f.IsDirectory {
		return u.mkdirRemote(remotePath(u.target.RawDest, f.Path))
	}

	dir := remoteDirname(remotePath(u.target.RawDest, f.Path))
	if err := u.mkdirRemote(dir); err != nil {
		return err
	}

	src, size, mode, err := openSource(f)
	if err != nil {
		return apperr.New(apperr.ErrTransfer, err, "cannot read source file")
	}
	defer src.Close()

	session, err := u.client.NewSession()
	if err != nil {
		return apperr.New(apperr.ErrTransfer, err, "cannot open ssh session")
	}
	defer session.Close()

	dest := remotePath(u.target.RawDest, f.Path)
	return runSink(session, dest, src, size, mode)
}

func (u *Uploader) DeleteFile(ctx context.Context, relativePath string) error {
	session, err := u.client.NewSession()
	if err != nil {
		return apperr.New(apperr.ErrRemote, err, "cannot open ssh session")
	}
	defer session.Close()

	dest := remotePath(u.target.RawDest, relativePath)
	if err := session.Run(fmt.Sprintf("rm -f %s", shellQuote(dest))); err != nil {
		return apperr.New(apperr.ErrRemote, err, "delete failed")
	}
	return nil
}

func (u *Uploader) mkdirRemote(dir string) error {
	session, err := u.client.NewSession()
	if err != nil {
		return apperr.New(apperr.ErrTransfer, err, "cannot open ssh session")
	}
	defer session.Close()

	if err := session.Run(fmt.Sprintf("mkdir -p %s", shellQuote(dir))); err != nil {
		return apperr.New(apperr.ErrTransfer, err, "cannot create remote directory")
	}
	return nil
}

// runSink drives the scp sink side of the protocol: "scp -t <dir>" on the
// remote, then the single-file header/body/terminator sequence SCP expects.
func runSink(session *ssh.Session, dest string, src io.Reader, size int64, mode os.FileMode) error {
	dir := remoteDirname(dest)
	base := remoteBasename(dest)

	stdinPipe, err := session.StdinPipe()
	if err != nil {
		return apperr.New(apperr.ErrTransfer, err, "cannot open stdin pipe")
	}
	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		return apperr.New(apperr.ErrTransfer, err, "cannot open stdout pipe")
	}

	if err := session.Start(fmt.Sprintf("scp -t %s", shellQuote(dir))); err != nil {
		return apperr.New(apperr.ErrTransfer, err, "cannot start scp sink")
	}

	reader := bufio.NewReader(stdoutPipe)

	if mode == 0 {
		mode = 0o644
	}

	header := fmt.Sprintf("C%04o %d %s\n", mode.Perm(), size, base)
	if err := writeAndExpectAck(stdinPipe, reader, header); err != nil {
		return apperr.New(apperr.ErrTransfer, err, "scp header rejected")
	}

	if _, err := io.Copy(stdinPipe, src); err != nil {
		return apperr.New(apperr.ErrTransfer, err, "write failed")
	}
	if err := writeAndExpectAck(stdinPipe, reader, "\x00"); err != nil {
		return apperr.New(apperr.ErrTransfer, err, "scp body rejected")
	}

	stdinPipe.Close()
	if err := session.Wait(); err != nil {
		return apperr.New(apperr.ErrTransfer, err, "scp sink exited with an error")
	}
	return nil
}

func writeAndExpectAck(w io.Writer, r *bufio.Reader, s string) error {
	if _, err := io.WriteString(w, s); err != nil {
		return err
	}
	code, err := r.ReadByte()
	if err != nil {
		return err
	}
	if code != 0 {
		line, _ := r.ReadString('\n')
		return fmt.Errorf("scp: %s", strings.TrimSpace(line))
	}
	return nil
}

func remotePath(destRoot, relativePath string) string {
	return strings.TrimSuffix(destRoot, "/") + "/" + strings.TrimPrefix(relativePath, "/")
}

func remoteDirname(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

func remoteBasename(p string) string {
	idx := strings.LastIndex(p, "/")
	return p[idx+1:]
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func openSource(f model.UploadFile) (io.ReadCloser, int64, os.FileMode, error) {
	if f.SourcePath != "" {
		file, err := os.Open(f.SourcePath)
		if err != nil {
			return nil, 0, 0, err
		}
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, 0, 0, err
		}
		return file, info.Size(), info.Mode(), nil
	}
	return io.NopCloser(bytes.NewReader(f.Bytes)), int64(len(f.Bytes)), 0, nil
}

func authMethod(target model.ResolvedTarget) (ssh.AuthMethod, error) {
	switch target.AuthType {
	case model.AuthPassword:
		return ssh.Password(target.Password), nil
	case model.AuthSSHKey:
		key, err := os.ReadFile(target.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	default:
		return nil, fmt.Errorf("unsupported auth type %q", target.AuthType)
	}
}
