package apperror

import (
	"errors"
	"net/http"
)

// Details is the user-facing rendering of an error.
type Details struct {
	Kind        Kind     `json:"kind"`
	Title       string   `json:"title"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions"`
	AdminNote   string   `json:"admin_note,omitempty"`
	Critical    bool     `json:"-"`
}

var catalog = map[Kind]Details{
	KindMissingInput: {
		Title:   "Missing Login Details",
		Message: "Please enter both mobile number and room number/password.",
		Suggestions: []string{
			"Enter your mobile number without the country code.",
			"Guests enter their room number; staff, family and friends enter their password.",
		},
		AdminNote: "The login form was submitted with an empty field.",
	},
	KindInvalidCredentials: {
		Title:   "Invalid Login Credentials",
		Message: "The mobile number or room number is incorrect.",
		Suggestions: []string{
			"Make sure you're entering your mobile number without the country code.",
			"Double-check your room number format (e.g., R0, F1, 1 Dorm).",
			"If you're a guest, verify your details with the reception.",
			"For staff/family/friends, contact the administrator if you've forgotten your password.",
		},
		AdminNote: "User might need to be added to the system or the roster spreadsheet.",
	},
	KindAccountInactive: {
		Title:   "Account Deactivated",
		Message: "Your account has been deactivated.",
		Suggestions: []string{
			"Please contact the reception or the administrator to reactivate your account.",
		},
		AdminNote: "The identity is marked inactive in the users table.",
		Critical:  true,
	},
	KindAccountBlocked: {
		Title:   "Account Blocked",
		Message: "This account or device has been blocked.",
		Suggestions: []string{
			"Your account or device has been blocked by the administrator.",
			"Please contact the reception or hotel staff for assistance.",
			"Provide your mobile number and room details when seeking help.",
		},
		AdminNote: "Check the blocked_devices table for the specific reason.",
		Critical:  true,
	},
	KindRosterUnavailable: {
		Title:   "Guest List Unavailable",
		Message: "Guest details could not be verified right now.",
		Suggestions: []string{
			"Try again in a few minutes.",
			"If the problem persists, ask the reception for help.",
		},
		AdminNote: "Verify SPREADSHEET_ID, SHEET_NAME and GOOGLE_CREDENTIALS_FILE / GOOGLE_CREDENTIALS_JSON.",
		Critical:  true,
	},
	KindRouterConnectTimeout: {
		Title:   "Router Connection Error",
		Message: "Unable to connect to the WiFi router. The connection has timed out.",
		Suggestions: []string{
			"Check if the router is powered on and accessible on the network.",
			"Verify the router IP address in your environment settings.",
			"Check your network firewall settings to allow connections to the router API port.",
		},
		AdminNote: "This is often caused by incorrect MIKROTIK_HOST or MIKROTIK_PORT environment variables.",
		Critical:  true,
	},
	KindRouterAuthFailed: {
		Title:   "Router Authentication Failed",
		Message: "Failed to authenticate with the WiFi router.",
		Suggestions: []string{
			"Verify that the router admin credentials are correct.",
			"Make sure the router has API access enabled.",
		},
		AdminNote: "Check MIKROTIK_USERNAME and MIKROTIK_PASSWORD environment variables.",
		Critical:  true,
	},
	KindRouterAPIError: {
		Title:   "Router API Error",
		Message: "An error occurred while communicating with the router API.",
		Suggestions: []string{
			"The router might be running an unsupported firmware version.",
			"Try rebooting the router if the problem persists.",
		},
		AdminNote: "Review the specific API error in the logs for more details.",
	},
	KindPersistence: {
		Title:   "Database Error",
		Message: "An error occurred while processing your request in the database.",
		Suggestions: []string{
			"This is usually a temporary issue.",
			"Try again in a few moments.",
		},
		AdminNote: "Check DATABASE_URL / DB_PATH and the SQL error in the logs.",
	},
	KindInvalidInput: {
		Title:   "Invalid Request",
		Message: "The request could not be processed due to invalid parameters.",
		Suggestions: []string{
			"Mobile numbers should contain only digits without country code.",
		},
	},
	KindNotFound: {
		Title:       "Not Found",
		Message:     "The requested record does not exist.",
		Suggestions: []string{"Refresh the list and try again."},
	},
	KindConflict: {
		Title:       "Already Exists",
		Message:     "A record with the same mobile number already exists.",
		Suggestions: []string{"Edit the existing record instead."},
	},
	KindUnknown: {
		Title:   "Unexpected Error",
		Message: "An unexpected error occurred.",
		Suggestions: []string{
			"Try again in a few minutes.",
			"If the problem persists, contact technical support.",
		},
		AdminNote: "Check the logs for the specific error details.",
	},
}

// Describe renders err for display. The admin note is only included in
// development mode.
func Describe(err error, devMode bool) Details {
	kind := KindOf(err)
	d, ok := catalog[kind]
	if !ok {
		kind = KindUnknown
		d = catalog[KindUnknown]
	}
	d.Kind = kind
	d.Suggestions = append([]string(nil), d.Suggestions...)

	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		d.Message = d.Message + " " + e.Detail
	}
	if !devMode {
		d.AdminNote = ""
	} else if err != nil {
		d.AdminNote = d.AdminNote + " (" + err.Error() + ")"
	}
	return d
}

// HTTPStatus maps a kind to the status code the API layer responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindMissingInput, KindInvalidInput:
		return http.StatusBadRequest
	case KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindAccountInactive, KindAccountBlocked:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRosterUnavailable, KindRouterConnectTimeout, KindRouterAuthFailed, KindRouterAPIError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
