// Package sftp implements the SFTP transport on top of github.com/pkg/sftp
// and golang.org/x/crypto/ssh, grounded on the other_examples SFTP clients
// (ImGajeed76-charmer, restic, birdnet-go) rather than the teacher, since
// bb-stream has no SSH-family transport of its own.
package sftp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/ryanoboyle/wharf/internal/apperr"
	"github.com/ryanoboyle/wharf/internal/model"
	"github.com/ryanoboyle/wharf/internal/uploader"
)

// Uploader is the SFTP-backed transport for one target.
type Uploader struct {
	target model.ResolvedTarget

	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// New builds an unconnected SFTP Uploader for target.
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
	u.sshClient = ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(u.sshClient)
	if err != nil {
		u.sshClient.Close()
		return apperr.New(apperr.ErrConnection, err, "sftp subsystem failed to start")
	}
	u.sftpClient = sftpClient

	return nil
}

func (u *Uploader) Disconnect() {
	if u.sftpClient != nil {
		u.sftpClient.Close()
	}
	if u.sshClient != nil {
		u.sshClient.Close()
	}
}

func (u *Uploader) remotePath(relativePath string) string {
	return path.Join(u.target.RawDest, relativePath)
}

func (u *Uploader) ReadFile(ctx context.Context, relativePath string) ([]byte, int64, bool, error) {
	f, err := u.sftpClient.Open(u.remotePath(relativePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, false, nil
		}
		return nil, 0, false, apperr.New(apperr.ErrRemote, err, "read failed")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, false, apperr.New(apperr.ErrRemote, err, "read failed")
	}
	return data, int64(len(data)), true, nil
}

func (u *Uploader) TransferFile(ctx context.Context, f model.UploadFile) error {
	dest := u.remotePath(f.Path)

	if f.IsDirectory {
		if err := u.sftpClient.MkdirAll(dest); err != nil {
			return apperr.New(apperr.ErrTransfer, err, "cannot create remote directory")
		}
		return nil
	}

	if err := u.sftpClient.MkdirAll(path.Dir(dest)); err != nil {
		return apperr.New(apperr.ErrTransfer, err, "cannot create remote parent directory")
	}

	src, mode, err := openSource(f)
	if err != nil {
		return apperr.New(apperr.ErrTransfer, err, "cannot read source file")
	}
	defer src.Close()

	out, err := u.sftpClient.Create(dest)
	if err != nil {
		return apperr.New(apperr.ErrTransfer, err, "cannot create remote file")
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return apperr.New(apperr.ErrTransfer, err, "write failed")
	}

	if u.target.Preserve.Mode && mode != 0 {
		_ = u.sftpClient.Chmod(dest, mode)
	}

	return nil
}

func (u *Uploader) DeleteFile(ctx context.Context, relativePath string) error {
	if err := u.sftpClient.Remove(u.remotePath(relativePath)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.New(apperr.ErrRemote, err, "delete failed")
	}
	return nil
}

// ListRemoteFiles implements uploader.ListProvider via sftp.Walk.
func (u *Uploader) ListRemoteFiles(ctx context.Context, remoteDir string) ([]string, error) {
	root := u.target.RawDest
	if remoteDir != "" {
		root = path.Join(u.target.RawDest, remoteDir)
	}

	var paths []string
	walker := u.sftpClient.Walk(root)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, apperr.New(apperr.ErrRemote, err, "list failed")
		}
		if walker.Stat().IsDir() {
			continue
		}
		rel, err := pathRel(u.target.RawDest, walker.Path())
		if err != nil {
			continue
		}
		paths = append(paths, rel)
	}
	return paths, nil
}

func openSource(f model.UploadFile) (io.ReadCloser, os.FileMode, error) {
	if f.SourcePath != "" {
		file, err := os.Open(f.SourcePath)
		if err != nil {
			return nil, 0, err
		}
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, 0, err
		}
		return file, info.Mode(), nil
	}
	return io.NopCloser(bytes.NewReader(f.Bytes)), 0, nil
}

// pathRel trims base off of p, the way filepath.Rel would for two paths
// known to share a root, without pulling in path/filepath's OS-specific
// separator handling for what is always a POSIX-style remote path.
func pathRel(base, p string) (string, error) {
	base = strings.TrimSuffix(base, "/")
	if !strings.HasPrefix(p, base+"/") {
		if p == base {
			return "", fmt.Errorf("path equals base")
		}
		return "", fmt.Errorf("path %q not under base %q", p, base)
	}
	return strings.TrimPrefix(p, base+"/"), nil
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
