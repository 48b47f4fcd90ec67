package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// 自己定義常用的權限常量
const (
	// rw-r--r-- (擁有者讀寫，其他人唯讀)
	FileModeReadOnly fs.FileMode = 0644

	// rwxr-xr-x 目錄用
	FileModeDir fs.FileMode = 0755
)

// ErrBroken 寫入失敗後無法截回原本長度，WAL 不再接受寫入
var ErrBroken = errors.New("wal is broken")

// logFile *os.File 中 WAL 用到的部分
type logFile interface {
	io.ReadWriteSeeker
	Sync() error
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
	Close() error
}

// WAL 以 JSON Lines 格式追加寫入的日誌，每筆寫入都會 fsync
type WAL struct {
	file logFile
	mu   sync.Mutex
	// 非 nil 表示檔案尾端可能殘留失敗的寫入
	broken error
}

// NewWAL 開啟或建立一個 WAL 檔案 (目錄不存在時一併建立)
// O_RDWR 讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func NewWAL(path string) (*WAL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, FileModeDir); err != nil {
			return nil, fmt.Errorf("create wal dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModeReadOnly)
	if err != nil {
		return nil, err
	}
	return &WAL{file: file}, nil
}

// Write 寫入一筆資料並刷入硬碟，回傳 nil 代表已落地
//
// 寫入或 fsync 失敗時會把檔案截回寫入前的長度，重啟時不會重播這筆資料；
// 截斷也失敗的話 WAL 進入 broken 狀態，之後的 Write 一律回傳 ErrBroken
func (w *WAL) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken != nil {
		return fmt.Errorf("%w: %w", ErrBroken, w.broken)
	}

	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	offset := info.Size()

	_, err = w.file.Write(data)
	if err == nil {
		err = w.file.Sync()
	}
	if err != nil {
		if truncErr := w.file.Truncate(offset); truncErr != nil {
			w.broken = truncErr
			return fmt.Errorf("%w: truncate to %d: %w (after %w)", ErrBroken, offset, truncErr, err)
		}
		return err
	}
	return nil
}

// Close 關閉檔案
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// ReadAll 從頭讀取所有資料，每筆交給 callback
//
// 最後一筆若只寫了一半 (寫入途中當機)，會被截掉，之後的寫入接在最後一筆完整資料後面
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// 確保從頭讀取
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	decoder := json.NewDecoder(w.file)
	for {
		offset := decoder.InputOffset()
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return w.file.Truncate(offset)
			}
			return err
		}
		if err := callback(raw); err != nil {
			return err
		}
	}
}
