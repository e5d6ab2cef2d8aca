package api

// Default endpoints.
const (
	ProductionWSURL   = "wss://www.deribit.com/ws/api/v2"
	ProductionRESTURL = "https://www.deribit.com/api/v2"
	TestWSURL         = "wss://test.deribit.com/ws/api/v2"
	TestRESTURL       = "https://test.deribit.com/api/v2"
)

// Session management.
const (
	MethodAuth                      = "public/auth"
	MethodLogout                    = "private/logout"
	MethodGetTime                   = "public/get_time"
	MethodTest                      = "public/test"
	MethodSetHeartbeat              = "public/set_heartbeat"
	MethodDisableHeartbeat          = "public/disable_heartbeat"
	MethodEnableCancelOnDisconnect  = "private/enable_cancel_on_disconnect"
	MethodDisableCancelOnDisconnect = "private/disable_cancel_on_disconnect"
)

// Account.
const (
	MethodGetPosition        = "private/get_position"
	MethodGetPositions       = "private/get_positions"
	MethodGetAccountSummary  = "private/get_account_summary"
	MethodGetAnnouncements   = "public/get_announcements"
	MethodCreateSubaccount   = "private/create_subaccount"
	MethodGetSubaccounts     = "private/get_subaccounts"
	MethodCreateAPIKey       = "private/create_api_key"
	MethodListAPIKeys        = "private/list_api_keys"
	MethodResetAPIKey        = "private/reset_api_key"
	MethodRemoveAPIKey       = "private/remove_api_key"
	MethodSetAPIKeyAsDefault = "private/set_api_key_as_default"
)

// Market data.
const (
	MethodGetInstruments             = "public/get_instruments"
	MethodGetOrderBook               = "public/get_order_book"
	MethodGetCurrencies              = "public/get_currencies"
	MethodGetIndex                   = "public/get_index"
	MethodGetIndexPrice              = "public/get_index_price"
	MethodGetLastTradesByInstrument  = "public/get_last_trades_by_instrument"
	MethodGetBookSummaryByCurrency   = "public/get_book_summary_by_currency"
	MethodGetBookSummaryByInstrument = "public/get_book_summary_by_instrument"
	MethodTicker                     = "public/ticker"
)

// Subscriptions.
const (
	MethodSubscribe          = "public/subscribe"
	MethodUnsubscribe        = "public/unsubscribe"
	MethodPrivateSubscribe   = "private/subscribe"
	MethodPrivateUnsubscribe = "private/unsubscribe"
)

// Trading.
const (
	MethodBuy                       = "private/buy"
	MethodSell                      = "private/sell"
	MethodClosePosition             = "private/close_position"
	MethodCancelAll                 = "private/cancel_all"
	MethodCancelAllByCurrency       = "private/cancel_all_by_currency"
	MethodCancelAllByInstrument     = "private/cancel_all_by_instrument"
	MethodGetMargins                = "private/get_margins"
	MethodGetOrderState             = "private/get_order_state"
	MethodGetOpenOrdersByCurrency   = "private/get_open_orders_by_currency"
	MethodGetOpenOrdersByInstrument = "private/get_open_orders_by_instrument"
	MethodGetUserTradesByCurrency   = "private/get_user_trades_by_currency"
	MethodGetUserTradesByInstrument = "private/get_user_trades_by_instrument"
)

// Wallet.
const (
	MethodCancelTransferByID         = "private/cancel_transfer_by_id"
	MethodCancelWithdrawal           = "private/cancel_withdrawal"
	MethodCreateDepositAddress       = "private/create_deposit_address"
	MethodGetCurrentDepositAddress   = "private/get_current_deposit_address"
	MethodGetDeposits                = "private/get_deposits"
	MethodGetTransfers               = "private/get_transfers"
	MethodGetWithdrawals             = "private/get_withdrawals"
	MethodSubmitTransferToSubaccount = "private/submit_transfer_to_subaccount"
	MethodSubmitTransferToUser       = "private/submit_transfer_to_user"
	MethodWithdraw                   = "private/withdraw"
)

// Push methods carried by frames without an id.
const (
	PushHeartbeat    = "heartbeat"
	PushSubscription = "subscription"
)

// Heartbeat push types (params.type of a heartbeat push).
const (
	HeartbeatTypeHeartbeat   = "heartbeat"
	HeartbeatTypeTestRequest = "test_request"
)
