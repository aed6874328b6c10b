package pipeline

import (
	"time"

	"github.com/khaledhikmat/vs-live/service/config"
	"github.com/khaledhikmat/vs-live/service/data"
	"github.com/khaledhikmat/vs-live/service/inference"
	"github.com/khaledhikmat/vs-live/service/notify"
	"github.com/khaledhikmat/vs-live/service/storage"
)

// Frame is an encoded JPEG as received from the camera. Data must not be
// modified once the frame has been handed to a slot.
type Frame struct {
	Data      []byte
	Timestamp time.Time
	Seq       uint64
}

func (f Frame) Empty() bool {
	return len(f.Data) == 0
}

type ServicesFactory struct {
	CfgSvc       config.IService
	DataSvc      data.IService
	StorageSvc   storage.IService
	InferenceSvc inference.IService
	NotifySvc    notify.IService
	TelegramSvc  *notify.Telegram // nil unless a bot token is configured
}
