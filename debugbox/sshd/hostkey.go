// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package sshd

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// LoadOrGenerateHostKey returns the SSH host key stored at the specified
// path, generating and storing a new ed25519 key if there is none yet. An
// empty path gives an ephemeral key that is never stored.
func LoadOrGenerateHostKey(path string) (ssh.Signer, error) {
	if path != "" {
		pemdata, err := os.ReadFile(path)
		if err == nil {
			signer, err := ssh.ParsePrivateKey(pemdata)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid SSH host key %s", path)
			}
			return signer, nil
		}
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "cannot read SSH host key %s", path)
		}
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "cannot generate SSH host key")
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, errors.Wrap(err, "cannot generate SSH host key")
	}
	if path == "" {
		return signer, nil
	}
	block, err := ssh.MarshalPrivateKey(priv, "debugbox host key")
	if err != nil {
		return nil, errors.Wrap(err, "cannot encode SSH host key")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrapf(err, "cannot store SSH host key %s", path)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, errors.Wrapf(err, "cannot store SSH host key %s", path)
	}
	log.Infof("generated new SSH host key %s", path)
	return signer, nil
}
