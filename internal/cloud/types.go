package cloud

// Raw device-info field keys as returned by the cloud API.
// Centralised here to avoid magic strings throughout the bridge.
const (
	FieldDeviceID     = "deviceid"
	FieldDeviceName   = "devicename"
	FieldDoorStatus   = "doorstatus"
	FieldBattery      = "batterypercentage"
	FieldModel        = "modelnumber"
	FieldSerial       = "serialnumber"
	FieldFirmware     = "firmwarebundleversion"
	FieldLED          = "ledstatus"
	FieldAudio        = "audiostatus"
	FieldSecureScreen = "securescreenstatus"

	// Access-code slot occupancy fields. The same information appears in
	// several redundant encodings depending on lock model and firmware.
	FieldSlotBitmap64 = "accesscodebitmap"
	FieldSlotBitmap8  = "keycodeslotstatus"
	FieldSlotCRCList  = "keycodecrclist"
	FieldSlotsByIndex = "keycodesbyindex"
)

// DeviceFields is a raw device-info document from the cloud API.
// Values are untyped; parsing happens in the coordinator and slots packages.
type DeviceFields map[string]any

// String returns the named field as a string, or def if absent or not a string.
func (f DeviceFields) String(key, def string) string {
	if v, ok := f[key].(string); ok {
		return v
	}
	return def
}

// Device identifies one lock in a home's device list.
type Device struct {
	DeviceID   string `json:"deviceid"`
	DeviceName string `json:"devicename"`
}

// UserInfo is the account user document required by lock/unlock commands.
type UserInfo map[string]any

// HistoryResponse is the envelope returned by the device history endpoint.
// Events are ordered most-recent-first by the API; the bridge preserves
// that order rather than re-sorting.
type HistoryResponse struct {
	Data []map[string]any `json:"data"`
}

// AccessCodeRequest carries the parameters for access-code create/edit/
// enable/disable calls.
type AccessCodeRequest struct {
	Code     string
	Name     string
	Slot     int
	Schedule AccessCodeSchedule
}

// AccessCodeResult is returned by CreateAccessCode. Token correlates the
// asynchronous slot assignment delivered later on the push channel.
type AccessCodeResult struct {
	Token string `json:"token"`
}
