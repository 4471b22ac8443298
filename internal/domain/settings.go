package domain

// RoomSettings is a local copy of the permissions owned by the room settings
// service. Only the local effect of a change is applied here.
type RoomSettings struct {
	AllowChat        bool `json:"allowChat"`
	AllowScreenShare bool `json:"allowScreenShare"`
	AllowAudio       bool `json:"allowAudio"`
	AllowVideo       bool `json:"allowVideo"`
}

func DefaultRoomSettings() RoomSettings {
	return RoomSettings{AllowChat: true, AllowScreenShare: true, AllowAudio: true, AllowVideo: true}
}

type SettingField string

const (
	// SettingChat gates sending chat messages.
	SettingChat SettingField = "allowChat"
	// SettingScreenShare gates starting a screen share; revoking it stops an active share.
	SettingScreenShare SettingField = "allowScreenShare"
	// SettingAudio gates publishing audio; revoking it force-mutes non-host participants.
	SettingAudio SettingField = "allowAudio"
	// SettingVideo gates publishing video; revoking it turns the camera off for non-hosts.
	SettingVideo SettingField = "allowVideo"
)

type SettingPatch struct {
	Field SettingField
	Value bool
}
