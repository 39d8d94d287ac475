/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package config provides the ini-style configuration loader for riotpd,
// the RIOTp broker daemon. A config file looks like:
//
//	[Global]
//	Bind-String=0.0.0.0:7100
//	TLS-Bind-String=0.0.0.0:7101
//	Cert-File=/etc/riotpd/server.crt
//	Key-File=/etc/riotpd/server.key
//	Credentials-File=/etc/riotpd/creds.conf
//	Credentials-Mode=flatfile
//	Worker-Count=8
//	Max-Write-Queue=4096
//	Max-Conn-Bps=0
//	Log-File=/var/log/riotpd/riotpd.log
//	Log-Level=INFO
package config

import (
	"errors"
	"fmt"
	"strings"
)

const (
	defaultLogLevel      = `ERROR`
	defaultWorkerCount   = 8
	defaultMaxWriteQueue = 4096

	CredentialsModeFlatfile = `flatfile`
	CredentialsModeJWT      = `jwt`
)

const (
	envLogLevel    string = `RIOTPD_LOG_LEVEL`
	envJWTSecret   string = `RIOTPD_JWT_SECRET`
	envCredsFile   string = `RIOTPD_CREDENTIALS_FILE`
	envKeyPassword string = `RIOTPD_KEY_PASSWORD`
	envBindString  string = `RIOTPD_BIND_STRING`
	envTLSBindStr  string = `RIOTPD_TLS_BIND_STRING`
)

var (
	ErrNoListeners            = errors.New("no Bind-String or TLS-Bind-String specified")
	ErrInvalidLogLevel        = errors.New("invalid Log-Level")
	ErrGlobalSectionNotFound  = errors.New("Global config section not found")
	ErrIncompleteTLSConfig    = errors.New("TLS-Bind-String requires both Cert-File and Key-File")
	ErrInvalidWorkerCount     = errors.New("Worker-Count must be greater than zero")
	ErrInvalidMaxWriteQueue   = errors.New("Max-Write-Queue must be greater than zero")
	ErrInvalidCredentialsMode = errors.New("Credentials-Mode must be one of [flatfile,jwt]")
	ErrInvalidMaxConnBps      = errors.New("Max-Conn-Bps must not be negative")
	ErrMissingCredentialsFile = errors.New("Credentials-Mode=flatfile requires Credentials-File")
	ErrMissingJWTSecret       = errors.New("Credentials-Mode=jwt requires JWT-Secret")
)

// CfgType is the top-level structure loaded by gcfg from a riotpd config
// file. It mirrors the [Global] section layout used throughout the
// examples pack's ingesters, adapted to the broker's own parameters.
type CfgType struct {
	Global GlobalConfig
}

// GlobalConfig holds the [Global] section of a riotpd config file.
type GlobalConfig struct {
	Bind_String      string `json:",omitempty"`
	TLS_Bind_String  string `json:",omitempty"`
	Cert_File        string `json:",omitempty"`
	Key_File         string `json:",omitempty"`
	Key_Password     string `json:"-"` // DO NOT send this when marshalling
	Credentials_File string `json:",omitempty"`
	Credentials_Mode string `json:",omitempty"`
	JWT_Secret       string `json:"-"` // DO NOT send this when marshalling
	Worker_Count     int    `json:",omitempty"`
	Max_Write_Queue  int    `json:",omitempty"`
	Max_Conn_Bps     int64  `json:",omitempty"` // 0 disables per-connection bandwidth throttling
	Log_File         string `json:",omitempty"`
	Log_Level        string `json:",omitempty"`
}

func (gc *GlobalConfig) loadDefaults() error {
	if err := LoadEnvVar(&gc.Log_Level, envLogLevel, defaultLogLevel); err != nil {
		return err
	}
	if err := LoadEnvVar(&gc.JWT_Secret, envJWTSecret, ``); err != nil {
		return err
	}
	if err := LoadEnvVar(&gc.Credentials_File, envCredsFile, ``); err != nil {
		return err
	}
	if err := LoadEnvVar(&gc.Key_Password, envKeyPassword, ``); err != nil {
		return err
	}
	if err := LoadEnvVar(&gc.Bind_String, envBindString, ``); err != nil {
		return err
	}
	if err := LoadEnvVar(&gc.TLS_Bind_String, envTLSBindStr, ``); err != nil {
		return err
	}
	return nil
}

// Verify checks the loaded configuration for internal consistency and
// fills in defaults, returning a descriptive error on the first problem
// found.
func (gc *GlobalConfig) Verify() error {
	if err := gc.loadDefaults(); err != nil {
		return err
	}

	if gc.Bind_String == `` && gc.TLS_Bind_String == `` {
		return ErrNoListeners
	}

	if gc.TLS_Bind_String != `` {
		if gc.Cert_File == `` || gc.Key_File == `` {
			return ErrIncompleteTLSConfig
		}
	}

	if gc.Worker_Count == 0 {
		gc.Worker_Count = defaultWorkerCount
	} else if gc.Worker_Count < 0 {
		return ErrInvalidWorkerCount
	}

	if gc.Max_Write_Queue == 0 {
		gc.Max_Write_Queue = defaultMaxWriteQueue
	} else if gc.Max_Write_Queue < 0 {
		return ErrInvalidMaxWriteQueue
	}

	if gc.Max_Conn_Bps < 0 {
		return ErrInvalidMaxConnBps
	}

	gc.Log_Level = strings.ToUpper(strings.TrimSpace(gc.Log_Level))
	if err := gc.checkLogLevel(); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(gc.Credentials_Mode)) {
	case ``, CredentialsModeFlatfile:
		gc.Credentials_Mode = CredentialsModeFlatfile
		if gc.Credentials_File == `` {
			return ErrMissingCredentialsFile
		}
	case CredentialsModeJWT:
		gc.Credentials_Mode = CredentialsModeJWT
		if gc.JWT_Secret == `` {
			return ErrMissingJWTSecret
		}
	default:
		return ErrInvalidCredentialsMode
	}

	return nil
}

func (gc *GlobalConfig) checkLogLevel() error {
	if len(gc.Log_Level) == 0 {
		gc.Log_Level = defaultLogLevel
		return nil
	}
	switch gc.Log_Level {
	case `OFF`, `DEBUG`, `INFO`, `WARN`, `ERROR`, `CRITICAL`, `FATAL`:
		return nil
	}
	return ErrInvalidLogLevel
}

// GetConfig loads and verifies a riotpd configuration file, optionally
// overlaid with additional fragments from overlayPath (a directory of
// `.conf` snippets merged on top, same shape as the teacher's
// config-overlays flag).
func GetConfig(path, overlayPath string) (*CfgType, error) {
	var c CfgType
	if err := LoadConfigFile(&c, path); err != nil {
		return nil, err
	}
	if overlayPath != `` {
		if err := LoadConfigOverlays(&c, overlayPath); err != nil {
			return nil, err
		}
	}
	if err := c.Global.Verify(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *CfgType) String() string {
	return fmt.Sprintf("Bind-String=%q TLS-Bind-String=%q Worker-Count=%d Credentials-Mode=%q",
		c.Global.Bind_String, c.Global.TLS_Bind_String, c.Global.Worker_Count, c.Global.Credentials_Mode)
}
